package surface

// pageHTML is the host page. window.tradedesk is the bridge the browser
// client evaluates against; drain() hands queued focus returns and finished
// statuses back to the desk.
const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>tradedesk</title>
<style>
body { font-family: system-ui, sans-serif; background: #111; color: #ddd; }
.kite-button { display: none; }
</style>
</head>
<body>
<p id="status">Waiting for Kite Publisher</p>
<div id="fallback">
{{- range .Anchors}}
<a href="#" class="kite-button" id="leg-{{.Index}}"
   data-kite="{{$.APIKey}}"
   data-exchange="{{index .Attrs "data-exchange"}}"
   data-tradingsymbol="{{index .Attrs "data-tradingsymbol"}}"
   data-transaction_type="{{index .Attrs "data-transaction_type"}}"
   data-quantity="{{index .Attrs "data-quantity"}}"
   data-order_type="{{index .Attrs "data-order_type"}}"
   data-product="{{index .Attrs "data-product"}}"
   data-price="{{index .Attrs "data-price"}}"
   {{- with index .Attrs "data-trigger_price"}} data-trigger_price="{{.}}"{{end}}
   {{- with index .Attrs "data-validity"}} data-validity="{{.}}"{{end}}
   {{- with index .Attrs "data-variety"}} data-variety="{{.}}"{{end}}>leg {{.Index}}</a>
{{- end}}
</div>
<script>
(function () {
  var apiKey = {{.APIKey}};
  var state = { kite: null, focus: 0, finished: [] };

  function bump() { state.focus++; }
  window.addEventListener("focus", bump);
  document.addEventListener("visibilitychange", function () {
    if (document.visibilityState === "visible") { bump(); }
  });

  function setup() {
    if (state.kite || typeof window.KiteConnect !== "function") { return !!state.kite; }
    try {
      state.kite = new KiteConnect(apiKey);
      if (typeof state.kite.finished === "function") {
        state.kite.finished(function (status) { state.finished.push(String(status || "finished")); });
      }
      document.getElementById("status").textContent = "Kite Publisher ready";
    } catch (e) {
      state.kite = null;
    }
    return !!state.kite;
  }

  function need() {
    if (!setup()) { throw new Error("kite publisher not ready"); }
    return state.kite;
  }

  window.tradedesk = {
    ready: function () { return setup(); },
    clear: function () {
      var kite = need();
      if (typeof kite.clear === "function") { kite.clear(); }
      return true;
    },
    add: function (leg) {
      need().add(leg);
      return true;
    },
    count: function () {
      var kite = need();
      if (typeof kite.count === "function") { return kite.count(); }
      if (typeof kite.get === "function") { return (kite.get() || []).length; }
      return -1;
    },
    armFinished: function () {
      state.finished = [];
      return true;
    },
    publish: function () {
      var kite = need();
      if (typeof kite.publish === "function") { kite.publish(); return true; }
      if (typeof kite.connect === "function") { kite.connect(); return true; }
      throw new Error("kite publisher cannot publish");
    },
    click: function (attrs) {
      var a = document.createElement("a");
      a.href = "#";
      a.className = "kite-button";
      a.setAttribute("data-kite", apiKey);
      Object.keys(attrs).forEach(function (k) { a.setAttribute(k, attrs[k]); });
      document.getElementById("fallback").appendChild(a);
      if (typeof window.kite_publisher_load === "function") { window.kite_publisher_load(); }
      a.click();
      return true;
    },
    drain: function () {
      var out = { focus: state.focus, finished: state.finished };
      state.focus = 0;
      state.finished = [];
      return out;
    }
  };

  if (window.KiteConnect && typeof KiteConnect.ready === "function") {
    KiteConnect.ready(setup);
  }
})();
</script>
<script src="{{.Script}}" async onload="window.tradedesk.ready()"></script>
</body>
</html>
`
