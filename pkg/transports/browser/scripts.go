package browser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Select outcomes reported by selectScript.
const (
	selectOK       = "ok"
	selectMissing  = "missing"
	selectNoOption = "no-option"
)

// observeScript returns {present, value} for the first element matching
// selector. Inputs report their value, checkboxes their checked state and
// everything else its visible text.
func observeScript(selector string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return {present: false, value: ""};
	let value;
	if (el.type === "checkbox" || el.type === "radio") {
		value = el.checked ? "true" : "false";
	} else if (typeof el.value === "string" && el.tagName !== "BUTTON") {
		value = el.value;
	} else {
		value = el.innerText || el.textContent || "";
	}
	return {present: true, value: value.trim()};
})()`, jsString(selector))
}

// selectScript picks option in the dropdown at selector. Native selects are
// set directly; anything else is opened with a click and the listed option
// whose text matches is clicked.
func selectScript(selector, option string, timeout time.Duration) string {
	return fmt.Sprintf(`(async (sel, option, timeout) => {
	const el = document.querySelector(sel);
	if (!el) return %[4]s;
	if (el.tagName === "SELECT") {
		const opt = Array.from(el.options).find(o => o.text.trim() === option || o.value === option);
		if (!opt) return %[5]s;
		el.value = opt.value;
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return %[6]s;
	}
	el.click();
	const deadline = Date.now() + timeout;
	while (Date.now() < deadline) {
		const match = Array.from(document.querySelectorAll('[role="option"]'))
			.find(o => (o.innerText || o.textContent || "").trim() === option);
		if (match) {
			match.click();
			return %[6]s;
		}
		await new Promise(r => setTimeout(r, 100));
	}
	return %[5]s;
})(%[1]s, %[2]s, %[3]d)`,
		jsString(selector), jsString(option), timeout.Milliseconds(),
		jsString(selectMissing), jsString(selectNoOption), jsString(selectOK))
}

// assignHashScript switches the single-page app to another route without
// reloading the document.
func assignHashScript(fragment string) string {
	return fmt.Sprintf(`(() => { window.location.hash = %s; return true; })()`, jsString(fragment))
}

const readyStateScript = `document.readyState`

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// sameDocument reports whether navigating from current to target only
// changes the fragment, in which case the browser fires no load event.
func sameDocument(current, target string) (fragment string, ok bool) {
	cu, err := url.Parse(current)
	if err != nil || cu.Scheme == "" || cu.Host == "" {
		return "", false
	}
	tu, err := url.Parse(target)
	if err != nil {
		return "", false
	}
	if cu.Scheme != tu.Scheme || cu.Host != tu.Host || cu.Path != tu.Path || cu.RawQuery != tu.RawQuery {
		return "", false
	}
	if tu.Fragment == "" || tu.Fragment == cu.Fragment {
		return "", false
	}
	return tu.Fragment, true
}
