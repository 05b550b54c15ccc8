package renderer

import (
	"fmt"
	"html"
)

// Page returns a complete HTML page holding an empty subject element and
// the client that relays invocations to the live server and applies the
// update records it broadcasts.
func Page(title, subject string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<script>%s</script>
</head>
<body>
<div id="%s"></div>
</body>
</html>`, html.EscapeString(title), fmt.Sprintf(clientScript, subject), html.EscapeString(subject))
}

// clientScript keeps the page in step with the server-side document. The
// record format is reconcile.Record encoded as JSON.
const clientScript = `
(function () {
  var subject = %q;
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  var queue = [];
  ws.onopen = function () { queue.splice(0).forEach(function (m) { ws.send(m); }); };

  function byId(id) { return document.getElementById(id); }
  function fragment(markup) {
    var t = document.createElement("template");
    t.innerHTML = markup;
    return t.content;
  }
  function sync(el, set) {
    Array.prototype.slice.call(el.attributes).forEach(function (a) {
      if (!(a.name in set)) el.removeAttribute(a.name);
    });
    Object.keys(set).forEach(function (k) { el.setAttribute(k, set[k]); });
  }
  var apply = {
    hard: function (r) {
      var el = byId(r.target);
      if (el.tagName === "TEXTAREA") { el.value = fragment(r.html || "").textContent; }
      el.innerHTML = r.html || "";
      if (r.set) sync(el, r.set);
    },
    attributes: function (r) {
      var el = byId(r.target);
      Object.keys(r.set || {}).forEach(function (k) {
        el.setAttribute(k, r.set[k]);
        if (k === "value") el.value = r.set[k];
        if (k === "checked") el.checked = true;
      });
      (r.unset || []).forEach(function (k) {
        el.removeAttribute(k);
        if (k === "checked") el.checked = false;
      });
    },
    insert: function (r) { byId(r.parent).insertBefore(fragment(r.html), byId(r.before)); },
    append: function (r) { byId(r.parent).appendChild(fragment(r.html)); },
    remove: function (r) { byId(r.target).remove(); },
    rebind: function (r) {
      var needle = "loom.invoke('" + r.oldKey + "'";
      var scope = byId(r.target);
      var all = [scope].concat(Array.prototype.slice.call(scope.querySelectorAll("[" + r.attr + "]")));
      for (var i = 0; i < all.length; i++) {
        var v = all[i].getAttribute(r.attr);
        if (v && v.indexOf(needle) >= 0) { all[i].setAttribute(r.attr, r.value); return; }
      }
    }
  };

  ws.onmessage = function (msg) {
    var m = JSON.parse(msg.data);
    if (m.type === "error") { console.error("loom:", m.error); return; }
    if (m.type !== "records") return;
    var focused = document.activeElement;
    var start = focused && focused.selectionStart, end = focused && focused.selectionEnd;
    (m.records || []).forEach(function (r) {
      try { apply[r.kind](r); } catch (e) { console.warn("loom: skipped", r, e); }
    });
    if (focused && document.activeElement !== focused && focused.id && byId(focused.id)) {
      byId(focused.id).focus();
      try { byId(focused.id).setSelectionRange(start, end); } catch (e) {}
    }
  };

  window.loom = {
    subject: subject,
    invoke: function (key, signature, event) {
      var m = JSON.stringify({ key: key, signature: signature || "", event: event });
      if (ws.readyState === 1) ws.send(m); else queue.push(m);
    }
  };
})();
`
