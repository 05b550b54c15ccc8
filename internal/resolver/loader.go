// Package resolver loads and compiles the templates a unit imports and
// tracks the inputs it declares.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/loom/internal/errors"
)

// ScriptType marks a <script> element holding template text.
const ScriptType = "text/x-loom"

// Source is template text and where it came from.
type Source struct {
	Text string
	// Directives are the attributes of the element the text was taken
	// from, minus id and type.
	Directives map[string]string
	URL        string
}

// Loader fetches template text by reference.
type Loader interface {
	Load(ctx context.Context, ref string) (Source, error)
}

// FileLoader loads file:// references and plain paths.
type FileLoader struct{}

// Load reads the file named by ref. A #fragment selects an inline element.
func (FileLoader) Load(_ context.Context, ref string) (Source, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return Source{}, errors.WrapIO(err, errors.ErrCodeImportFailed, fmt.Sprintf("invalid reference %q", ref))
	}
	path := u.Path
	if u.Scheme == "" && u.Opaque == "" && path == "" {
		path = ref
	}

	data, err := os.ReadFile(filepath.FromSlash(path))
	if err != nil {
		code := errors.ErrCodeImportFailed
		if os.IsNotExist(err) {
			code = errors.ErrCodeFileNotFound
		}
		return Source{}, errors.WrapIO(err, code, fmt.Sprintf("cannot read %s", path))
	}

	return fromDocument(data, u.Fragment, ref)
}

// HTTPLoader loads http and https references.
type HTTPLoader struct {
	Client *http.Client
}

// Load fetches ref. A #fragment selects an inline element of the page.
func (l HTTPLoader) Load(ctx context.Context, ref string) (Source, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return Source{}, errors.WrapIO(err, errors.ErrCodeImportFailed, fmt.Sprintf("invalid reference %q", ref))
	}
	fragment := u.Fragment
	u.Fragment = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Source{}, errors.WrapIO(err, errors.ErrCodeImportFailed, "cannot build request")
	}

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Source{}, errors.WrapIO(err, errors.ErrCodeImportFailed, fmt.Sprintf("cannot fetch %s", u))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Source{}, errors.NewIOError(errors.ErrCodeImportFailed,
			fmt.Sprintf("fetching %s: %s", u, resp.Status), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Source{}, errors.WrapIO(err, errors.ErrCodeImportFailed, fmt.Sprintf("reading %s", u))
	}

	return fromDocument(data, fragment, ref)
}

// MultiLoader dispatches on the reference scheme. References without a
// scheme go to the "file" loader.
type MultiLoader map[string]Loader

// DefaultLoader handles file, http and https references.
func DefaultLoader() MultiLoader {
	web := HTTPLoader{}
	return MultiLoader{"file": FileLoader{}, "http": web, "https": web}
}

// Load implements Loader.
func (m MultiLoader) Load(ctx context.Context, ref string) (Source, error) {
	scheme := "file"
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		scheme = strings.ToLower(u.Scheme)
	}
	l, ok := m[scheme]
	if !ok {
		return Source{}, errors.NewIOError(errors.ErrCodeImportFailed,
			fmt.Sprintf("no loader for scheme %q", scheme), nil)
	}
	return l.Load(ctx, ref)
}

func fromDocument(data []byte, fragment, ref string) (Source, error) {
	if fragment == "" {
		return Source{Text: string(data), URL: ref}, nil
	}
	text, directives, err := Inline(data, fragment)
	if err != nil {
		return Source{}, err
	}
	return Source{Text: text, Directives: directives, URL: ref}, nil
}

// Inline finds the <template> or <script type="text/x-loom"> element with
// the given id in an HTML document and returns its text and attributes.
func Inline(doc []byte, id string) (string, map[string]string, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return "", nil, errors.WrapIO(err, errors.ErrCodeImportFailed, "cannot parse document")
	}

	n := findInline(root, id)
	if n == nil {
		return "", nil, errors.NewIOError(errors.ErrCodeImportFailed,
			fmt.Sprintf("no inline template with id %q", id), nil)
	}

	directives := make(map[string]string)
	for _, a := range n.Attr {
		if a.Key != "id" && a.Key != "type" {
			directives[a.Key] = a.Val
		}
	}
	return inlineText(n), directives, nil
}

func findInline(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		switch {
		case n.DataAtom == atom.Template:
			return n
		case n.DataAtom == atom.Script && attr(n, "type") == ScriptType:
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findInline(c, id); found != nil {
			return found
		}
	}
	return nil
}

// inlineText returns the template text of an inline element. Script bodies
// are raw text; template contents are serialized back to markup.
func inlineText(n *html.Node) string {
	if n.DataAtom == atom.Script {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String()
	}

	var b bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Abs resolves ref against base. Plain paths become file:// URLs.
func Abs(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", errors.WrapIO(err, errors.ErrCodeImportFailed, fmt.Sprintf("invalid reference %q", ref))
	}
	if r.IsAbs() {
		return r.String(), nil
	}

	b, err := url.Parse(base)
	if err != nil || base == "" || !b.IsAbs() {
		dir := base
		if dir == "" {
			dir, _ = os.Getwd()
		} else if !strings.HasSuffix(dir, "/") {
			dir = filepath.Dir(dir)
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", errors.WrapIO(err, errors.ErrCodeImportFailed, "cannot resolve base directory")
		}
		b = &url.URL{Scheme: "file", Path: filepath.ToSlash(abs) + "/"}
	}
	return b.ResolveReference(r).String(), nil
}
