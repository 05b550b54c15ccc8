package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const page = `<html><head></head><body><div id="app"><form id="f"><input id="name" value="ada"><input id="ok" type="checkbox" checked><textarea id="bio">hello</textarea></form><p>x</p></div></body></html>`

func mustNew(t *testing.T, markup string) *Document {
	t.Helper()
	d, err := New(markup)
	require.NoError(t, err)
	return d
}

func TestByIDAndAttrs(t *testing.T) {
	d := mustNew(t, page)

	app := d.ByID("app")
	require.NotNil(t, app)
	assert.Equal(t, "div", app.Data)
	assert.Nil(t, d.ByID("missing"))
	assert.Nil(t, d.ByID(""))

	d.SetAttr(app, "class", "a")
	d.SetAttr(app, "class", "b")
	v, ok := Attr(app, "class")
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	assert.Len(t, app.Attr, 2)

	d.RemoveAttr(app, "class")
	_, ok = Attr(app, "class")
	assert.False(t, ok)
	assert.Equal(t, "app", ID(app))
}

func TestProps(t *testing.T) {
	d := mustNew(t, page)
	name, ok, bio := d.ByID("name"), d.ByID("ok"), d.ByID("bio")

	assert.Equal(t, "ada", d.Prop(name, "value"))
	assert.Equal(t, true, d.Prop(ok, "checked"))
	assert.Equal(t, "hello", d.Prop(bio, "value"))
	assert.Nil(t, d.Prop(name, "other"))

	d.SetProp(ok, "checked", false)
	d.SetProp(name, "value", "bob")
	assert.Equal(t, false, d.Prop(ok, "checked"))
	assert.Equal(t, "bob", d.Prop(name, "value"))

	_, hasAttr := Attr(ok, "checked")
	assert.True(t, hasAttr, "properties do not touch markup")
}

func TestStructuralMutationsForgetState(t *testing.T) {
	d := mustNew(t, page)
	name := d.ByID("name")
	d.Focus(name)
	d.SetSelection(Selection{Start: 1, End: 3})
	d.SetProp(name, "value", "typed")

	assert.Equal(t, name, d.Focused())
	assert.Equal(t, Selection{Start: 1, End: 3}, d.Selection())

	form := d.ByID("f")
	nodes, err := ParseFragment(`<span id="s">new</span>`, nil)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	d.Replace(form, nodes[0])
	assert.Nil(t, d.Focused(), "focus leaves with the removed subtree")
	assert.Equal(t, Selection{}, d.Selection())
	assert.False(t, d.Contains(name))
	assert.True(t, d.Contains(nodes[0]))
	assert.Equal(t, `<div id="app"><span id="s">new</span><p>x</p></div>`, d.Outer(d.ByID("app")))
}

func TestInsertRemoveAndChildren(t *testing.T) {
	d := mustNew(t, `<ul id="l"><li id="1"></li><li id="2"></li></ul>`)
	list := d.ByID("l")

	nodes, err := ParseFragment(`<li id="3"></li>`, list)
	require.NoError(t, err)
	d.InsertBefore(list, nodes[0], d.ByID("2"))
	assert.Equal(t, `<li id="1"></li><li id="3"></li><li id="2"></li>`, d.Inner(list))

	d.Remove(d.ByID("1"))
	assert.Equal(t, `<li id="3"></li><li id="2"></li>`, d.Inner(list))

	fresh, err := ParseFragment(`<li>a</li><li>b</li>`, list)
	require.NoError(t, err)
	d.ReplaceChildren(list, fresh)
	assert.Equal(t, `<li>a</li><li>b</li>`, d.Inner(list))
	assert.Equal(t, "ab", Text(list))
}

func TestPathAndAt(t *testing.T) {
	d := mustNew(t, page)
	app := d.ByID("app")
	bio := d.ByID("bio")

	path := Path(bio, app)
	assert.Equal(t, []int{0, 2}, path)
	assert.Equal(t, bio, At(app, path))
	assert.Equal(t, []int{}, Path(app, app))
	assert.Nil(t, Path(app, bio))
	assert.Nil(t, At(app, []int{0, 9}))
}

func TestEvents(t *testing.T) {
	d := mustNew(t, page)
	app := d.ByID("app")

	var seen []string
	off := d.On(BeforeUpdate, func(e *Event) {
		seen = append(seen, "first:"+ID(e.Target))
		e.Cancel()
	})
	d.On(BeforeUpdate, func(e *Event) { seen = append(seen, "second") })

	ok := d.Dispatch(&Event{Type: BeforeUpdate, Target: app})
	assert.False(t, ok)
	assert.Equal(t, []string{"first:app", "second"}, seen)

	off()
	assert.True(t, d.Dispatch(&Event{Type: BeforeUpdate, Target: app}))
	assert.True(t, d.Dispatch(&Event{Type: Updated, Target: app}), "no listeners")
}

func TestCloneIsDetached(t *testing.T) {
	d := mustNew(t, page)
	form := d.ByID("f")
	c := Clone(form)

	assert.Nil(t, c.Parent)
	assert.Equal(t, Outer(form), Outer(c))

	c.Attr[0].Val = "changed"
	assert.Equal(t, "f", ID(form))
	assert.Equal(t, html.ElementNode, c.Type)
}

func TestRender(t *testing.T) {
	d := mustNew(t, `<p>x</p>`)
	assert.Equal(t, `<html><head></head><body><p>x</p></body></html>`, d.String())
	assert.NotNil(t, d.Body())
}
