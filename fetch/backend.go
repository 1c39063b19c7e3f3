package fetch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chenyanchen/lazypkg"
	"github.com/chenyanchen/lazypkg/bundle"
)

// ScriptMode tells how a package request was issued.
type ScriptMode int

const (
	// ModeInline means the request blocked the loop tick that flushed it.
	ModeInline ScriptMode = iota
	// ModeAsync means the request ran in the background and posted its result.
	ModeAsync
)

func (m ScriptMode) String() string {
	switch m {
	case ModeInline:
		return "inline"
	case ModeAsync:
		return "async"
	default:
		return "unknown"
	}
}

// Script records one issued package request.
type Script struct {
	URL  string
	Mode ScriptMode
}

// Document collects what the backend injected, in order.
type Document struct {
	mu      sync.Mutex
	scripts []Script
	styles  []lazypkg.Stylesheet
}

// Scripts returns the issued requests.
func (d *Document) Scripts() []Script {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Script(nil), d.scripts...)
}

// Stylesheets returns the injected stylesheets.
func (d *Document) Stylesheets() []lazypkg.Stylesheet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]lazypkg.Stylesheet(nil), d.styles...)
}

func (d *Document) addScript(s Script) {
	d.mu.Lock()
	d.scripts = append(d.scripts, s)
	d.mu.Unlock()
}

func (d *Document) addStylesheet(s lazypkg.Stylesheet) {
	d.mu.Lock()
	d.styles = append(d.styles, s)
	d.mu.Unlock()
}

// Backend implements lazypkg.Backend for one runtime.
type Backend struct {
	client *Client
	rt     *lazypkg.Runtime
	doc    *Document
}

// Bind attaches the runtime that receives delivered packages.
func (b *Backend) Bind(rt *lazypkg.Runtime) {
	b.rt = rt
}

// Document returns the record of injected scripts and stylesheets.
func (b *Backend) Document() *Document {
	return b.doc
}

// RequestPackages fetches names and implements every delivered bundle.
func (b *Backend) RequestPackages(names []string, stamp int64) error {
	if b.rt == nil {
		return fmt.Errorf("fetch backend: no runtime bound")
	}
	u := b.client.URL(names, stamp)

	if !b.rt.IsReady() {
		b.doc.addScript(Script{URL: u, Mode: ModeInline})
		payload, err := b.client.Get(u)
		if err != nil {
			return err
		}
		return b.deliver(payload)
	}

	b.doc.addScript(Script{URL: u, Mode: ModeAsync})
	loop := b.rt.Loop()
	go func() {
		payload, err := b.client.Get(u)
		loop.Defer(func() error {
			if err != nil {
				return err
			}
			return b.deliver(payload)
		})
	}()
	return nil
}

// InjectStylesheet records css in the document.
func (b *Backend) InjectStylesheet(css string, media string) error {
	b.doc.addStylesheet(lazypkg.Stylesheet{Media: media, CSS: css})
	return nil
}

// deliver implements each bundle, defining packages the runtime has not seen. A
// failing bundle does not hold back the others; the errors are joined.
func (b *Backend) deliver(payload bundle.Payload) error {
	var errs []error
	for _, bn := range payload.Packages {
		if err := b.deliverOne(bn); err != nil {
			errs = append(errs, err)
		}
	}
	b.client.logger.Debug("delivered packages", "count", len(payload.Packages), "failed", len(errs))
	return errors.Join(errs...)
}

func (b *Backend) deliverOne(bn bundle.Bundle) error {
	res, err := b.client.Resources(bn)
	if err != nil {
		return err
	}
	if _, known := b.rt.Package(bn.Name); !known {
		return b.rt.Define(bn.Name, bn.Deps, res)
	}
	return b.rt.Implement(bn.Name, res)
}
