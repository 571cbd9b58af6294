package portal

// ScriptVersion changes whenever any script below changes behaviour. It is
// logged with every renewal so page-side regressions can be traced.
const ScriptVersion = "2025.3"

// Page scripts. Each is a function expression taking a single argument.

// ScriptReadSelect returns {value, options: [{value, label, selected}]} for
// the select matching the argument, or null.
const ScriptReadSelect = `(sel) => {
  const el = document.querySelector(sel);
  if (!el || !el.options) return null;
  return {
    value: el.value,
    options: Array.from(el.options).map((o) => ({
      value: o.value,
      label: (o.textContent || '').replace(/\s+/g, ' ').trim(),
      selected: o.selected,
    })),
  };
}`

// ScriptSetSelect selects the entry at {selector, index} and fires the change
// events the portal listens to. Returns false when the select or index does
// not exist.
const ScriptSetSelect = `({ selector, index }) => {
  const el = document.querySelector(selector);
  if (!el || !el.options || index < 0 || index >= el.options.length) return false;
  el.selectedIndex = index;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`

// ScriptClearSelect forces a select back to its empty placeholder.
const ScriptClearSelect = `(sel) => {
  const el = document.querySelector(sel);
  if (!el) return false;
  el.value = '';
  el.selectedIndex = 0;
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`

// ScriptReadErrorBanner returns the text of the visible error banner, or ''.
// Argument: {alert, message} selectors.
const ScriptReadErrorBanner = `({ alert, message }) => {
  const box = document.querySelector(alert);
  if (!box) return '';
  const style = window.getComputedStyle(box);
  if (style.display === 'none' || style.visibility === 'hidden' || box.offsetParent === null) return '';
  const msg = document.querySelector(message) || box;
  return (msg.textContent || '').replace(/\s+/g, ' ').trim();
}`

// ScriptReadSuccessBanner returns the text of a renewal success message, or
// ''. Argument: {panel, markers, context}. The dedicated panel is checked
// first, then any text block mentioning both a marker and a context word.
const ScriptReadSuccessBanner = `({ panel, markers, context }) => {
  const has = (text, words) => words.some((w) => text.includes(w));
  const box = document.querySelector(panel);
  if (box) {
    const text = (box.textContent || '').replace(/\s+/g, ' ').trim();
    if (has(text.toLowerCase(), markers)) return text;
  }
  const blocks = document.querySelectorAll('div, span, p');
  for (const el of blocks) {
    const text = (el.textContent || '').toLowerCase();
    if (text.length < 400 && has(text, markers) && has(text, context)) {
      return (el.textContent || '').replace(/\s+/g, ' ').trim();
    }
  }
  return '';
}`

// ScriptIsVisible reports whether the selector matches a rendered element.
const ScriptIsVisible = `(sel) => {
  const el = document.querySelector(sel);
  return !!el && el.offsetParent !== null && !el.disabled;
}`

// ScriptReadAmount returns the first text containing a digit among the
// elements matching the argument selector list, or ''.
const ScriptReadAmount = `(sel) => {
  for (const el of document.querySelectorAll(sel)) {
    const text = (el.textContent || '').trim();
    if (/\d/.test(text)) return text;
  }
  return '';
}`

// ScriptReadReference returns a transaction reference shown on the success
// view, or ''.
const ScriptReadReference = `() => {
  const text = (document.body && document.body.innerText) || '';
  const m = text.match(/(?:r[ée]f[ée]rence|n°\s*(?:de\s+)?(?:transaction|facture))\s*:?\s*([A-Z0-9][A-Z0-9\-\/]{3,})/i);
  return m ? m[1] : '';
}`

// ScriptReadPhone returns the subscriber's mobile number from the customer
// form, or ''.
const ScriptReadPhone = `() => {
  const direct = document.querySelector("input[data-cy='phone']") ||
    document.querySelector("input[name='MOBILE1']");
  if (direct && direct.value) return direct.value;
  for (const el of document.querySelectorAll('input[type="text"], input[type="tel"]')) {
    const v = el.value || '';
    if (v.includes('224') || /[67]\d{8}/.test(v)) return v;
  }
  return '';
}`

// ScriptReadNotFound returns the text of a "no subscriber" banner, or ''.
// Argument: lower-case markers.
const ScriptReadNotFound = `(markers) => {
  for (const el of document.querySelectorAll('div, span, p')) {
    if (el.children.length > 2) continue;
    const text = (el.textContent || '').trim();
    const lower = text.toLowerCase();
    if (markers.some((m) => lower.includes(m))) return text;
  }
  return '';
}`

// ScriptReadPanels returns the outer HTML of every subscriber panel.
const ScriptReadPanels = `(sel) => Array.from(document.querySelectorAll(sel)).map((el) => el.outerHTML)`
