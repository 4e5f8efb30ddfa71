package browserhost

import "fmt"

const bindingName = "__vproctorEmit"

// bridgeScript runs in every document before page scripts. It forwards the
// window signals through the CDP binding with a snapshot of the state the
// host caches. Clipboard and context-menu defaults are cancelled in the page
// while Go holds a listener for that kind, since the binding is one-way.
var bridgeScript = fmt.Sprintf(`(() => {
  if (window.__vproctor) return;
  const guard = {};
  const state = () => ({
    hidden: document.visibilityState === 'hidden',
    fullscreen: !!document.fullscreenElement,
    outerWidth: window.outerWidth,
    outerHeight: window.outerHeight,
    innerWidth: window.innerWidth,
    innerHeight: window.innerHeight,
  });
  const send = (kind) => {
    try { window.%[1]s(JSON.stringify(Object.assign({ kind: kind }, state()))); } catch (e) {}
  };
  window.__vproctor = { guard: guard, state: state, baits: {} };
  document.addEventListener('visibilitychange', () => send('visibilitychange'));
  document.addEventListener('fullscreenchange', () => send('fullscreenchange'));
  window.addEventListener('blur', () => send('blur'));
  window.addEventListener('focus', () => send('focus'));
  ['copy', 'paste', 'contextmenu'].forEach((kind) => {
    document.addEventListener(kind, (e) => {
      if (guard[kind]) e.preventDefault();
      send(kind);
    }, true);
  });
  if (document.readyState === 'loading') {
    document.addEventListener('DOMContentLoaded', () => send('ready'));
  } else {
    send('ready');
  }
})();`, bindingName)

const stateExpr = `window.__vproctor ? window.__vproctor.state() : null`

// bridgeEvent is the JSON payload the bridge script sends.
type bridgeEvent struct {
	Kind        string `json:"kind"`
	Hidden      bool   `json:"hidden"`
	Fullscreen  bool   `json:"fullscreen"`
	OuterWidth  int    `json:"outerWidth"`
	OuterHeight int    `json:"outerHeight"`
	InnerWidth  int    `json:"innerWidth"`
	InnerHeight int    `json:"innerHeight"`
}

const kindReady = "ready"
