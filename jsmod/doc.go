// Package jsmod turns JavaScript source into lazypkg module factories.
//
// Modules run inside one shared goja runtime, which is also the global execution
// context handed to every factory (lazypkg.WithGlobal). Source is wrapped the
// CommonJS way and receives require, exports, module and global.
package jsmod
