package chrome

// timerShim counts scheduled setTimeout callbacks in window.__webTesteeTimers.
const timerShim = `(() => {
  if (window.__webTesteeTimers) return;
  const pending = new Set();
  window.__webTesteeTimers = pending;
  const setT = window.setTimeout.bind(window);
  const clearT = window.clearTimeout.bind(window);
  window.setTimeout = (fn, ms, ...rest) => {
    const id = setT(() => {
      pending.delete(id);
      if (typeof fn === 'function') fn(...rest);
    }, ms);
    pending.add(id);
    return id;
  };
  window.clearTimeout = (id) => {
    pending.delete(id);
    clearT(id);
  };
})()`

const (
	jsQueryXPath = `(xpath) => {
  const root = document.body || document.documentElement;
  const snap = document.evaluate(xpath, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
  const out = [];
  for (let i = 0; i < snap.snapshotLength; i++) out.push(snap.snapshotItem(i));
  return out;
}`

	jsMatches = `function (xpath) {
  const hit = document.evaluate(xpath, this, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
  return hit.singleNodeValue !== null;
}`

	jsDescribe = `function () {
  const r = this.getBoundingClientRect();
  return {
    tag: this.tagName ? this.tagName.toLowerCase() : '',
    testId: this.getAttribute ? (this.getAttribute('data-testid') || '') : '',
    text: (this.innerText || this.textContent || '').trim().slice(0, 80),
    x: r.x, y: r.y, width: r.width, height: r.height,
  };
}`

	jsBox = `function () {
  const r = this.getBoundingClientRect();
  return { x: r.x, y: r.y, width: r.width, height: r.height };
}`

	jsIntersectionRatio = `function () {
  return new Promise((resolve) => {
    const observer = new IntersectionObserver((entries) => {
      resolve(entries[0].intersectionRatio);
      observer.disconnect();
    });
    observer.observe(this);
  });
}`

	jsChildCount = `function () { return this.childElementCount || 0; }`

	jsIsFocused = `function () { return document.activeElement === this; }`

	jsValue = `function () { return typeof this.value === 'string' ? this.value : ''; }`

	jsSetValue = `function (value) {
  this.value = value;
  this.dispatchEvent(new Event('input', { bubbles: true }));
  this.dispatchEvent(new Event('change', { bubbles: true }));
}`

	jsTagName = `function () {
  return {
    tag: this.tagName ? this.tagName.toLowerCase() : '',
    type: this.getAttribute ? (this.getAttribute('type') || '') : '',
  };
}`

	jsScrollBy = `function (left, top) { this.scrollBy({ left, top }); }`

	jsIsScrollable = `function () {
  return this.scrollHeight > this.clientHeight || this.scrollWidth > this.clientWidth;
}`

	jsLongPress = `function (duration) {
  return new Promise((resolve) => {
    const r = this.getBoundingClientRect();
    const touch = new Touch({
      identifier: Date.now(),
      target: document,
      pageX: r.x + r.width / 2,
      pageY: r.y + r.height / 2,
    });
    const init = { cancelable: true, bubbles: true, touches: [touch], targetTouches: [], changedTouches: [touch] };
    this.dispatchEvent(new TouchEvent('touchstart', init));
    setTimeout(() => {
      this.dispatchEvent(new TouchEvent('touchend', init));
      resolve();
    }, duration);
  });
}`

	jsViewport = `() => ({ width: window.innerWidth, height: window.innerHeight })`

	jsBodyHTML = `() => document.body ? document.body.outerHTML : ''`

	jsTestIDs = `() => Array.from(document.querySelectorAll('[data-testid]'), (el) => el.getAttribute('data-testid'))`

	jsPendingTimers = `() => window.__webTesteeTimers ? window.__webTesteeTimers.size : 0`

	jsPostMessage = `(msg) => { window.postMessage(msg, '*'); }`
)
