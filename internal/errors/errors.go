package errors

import (
	"errors"
	"strings"
	"sync"
)

// ErrorCollector accumulates recoverable errors raised while processing a
// batch (for example one reconciliation pass) so the batch can finish and
// report every failure at the end.
type ErrorCollector struct {
	errors []error
	mutex  sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		errors: make([]error, 0),
	}
}

// Add adds an error to the collector. Nil errors are ignored.
func (ec *ErrorCollector) Add(err error) {
	if err == nil {
		return
	}
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = append(ec.errors, err)
}

// Errors returns a copy of the collected errors.
func (ec *ErrorCollector) Errors() []error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	result := make([]error, len(ec.errors))
	copy(result, ec.errors)
	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	return len(ec.errors) > 0
}

// Err joins the collected errors, or returns nil when there are none.
func (ec *ErrorCollector) Err() error {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	if len(ec.errors) == 0 {
		return nil
	}
	return errors.Join(ec.errors...)
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.errors = ec.errors[:0]
}

// FallbackTemplate builds the source of an error-literal template that
// renders err as a visible overlay. The result contains no dynamic syntax:
// every character the template compiler treats specially is written as an
// HTML character reference, and the whole overlay sits on one line.
func FallbackTemplate(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	var b strings.Builder
	b.WriteString(`<div id="loom-error-overlay" class="loom-error" role="alert">`)
	b.WriteString(`<strong>Template error</strong><pre>`)
	b.WriteString(literal(msg))
	b.WriteString(`</pre></div>`)
	return b.String()
}

var literalReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&#34;",
	"'", "&#39;",
	"@", "&#64;",
	"$", "&#36;",
	"#", "&#35;",
	"{", "&#123;",
	"}", "&#125;",
	"+", "&#43;",
	"\n", " ",
	"\r", " ",
)

func literal(s string) string {
	return literalReplacer.Replace(s)
}
