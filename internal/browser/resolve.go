package browser

import (
	"context"
	"encoding/json"
	"sort"

	"browsernerd/internal/types"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// markAttr tags the element a resolution settled on so rod can pick it up.
const markAttr = "data-bnerd-target"

// resolveJS walks the candidate list in order. For each candidate it gathers
// matching elements, filters by visibility (nonzero box, not hidden, not
// opacity 0), tie-breaks by visible area descending then document order
// ascending, and marks the winner. Returns the attempt log when nothing
// matched.
const resolveJS = `(candidates, markAttr) => {
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return false;
		const s = window.getComputedStyle(el);
		return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
	};
	const area = (el) => {
		const r = el.getBoundingClientRect();
		return r.width * r.height;
	};
	const norm = (s) => (s || '').trim().toLowerCase();
	const implicitRole = (el) => {
		const t = el.tagName.toLowerCase();
		if (t === 'button') return 'button';
		if (t === 'a' && el.hasAttribute('href')) return 'link';
		if (t === 'select') return 'combobox';
		if (t === 'textarea') return 'textbox';
		if (t === 'input') {
			const ty = (el.type || 'text').toLowerCase();
			if (ty === 'submit' || ty === 'button') return 'button';
			if (ty === 'checkbox') return 'checkbox';
			if (ty === 'radio') return 'radio';
			return 'textbox';
		}
		return el.getAttribute('role') || '';
	};
	const accName = (el) =>
		norm(el.getAttribute('aria-label')) || norm(el.textContent) || norm(el.value) || norm(el.placeholder);
	const interactive = () => Array.from(document.querySelectorAll(
		'input, button, a, select, textarea, [role=button], [contenteditable=true]'));

	const gather = (c) => {
		const v = norm(c.value);
		switch (c.strategy) {
		case 'role_name':
			return interactive().filter(el =>
				(el.getAttribute('role') === c.role || implicitRole(el) === c.role) && accName(el) === v);
		case 'aria_label':
			return Array.from(document.querySelectorAll('[aria-label]'))
				.filter(el => norm(el.getAttribute('aria-label')) === v);
		case 'placeholder':
			return Array.from(document.querySelectorAll('[placeholder]'))
				.filter(el => norm(el.getAttribute('placeholder')) === v);
		case 'text':
			return interactive().filter(el => {
				const t = norm(el.textContent) || norm(el.value);
				return t === v || (v.length > 2 && t.includes(v));
			});
		case 'selector':
			try { return Array.from(document.querySelectorAll(c.value)); }
			catch (e) { return []; }
		case 'index': {
			const all = interactive().filter(visible);
			return c.index >= 0 && c.index < all.length ? [all[c.index]] : [];
		}
		}
		return [];
	};

	document.querySelectorAll('[' + markAttr + ']').forEach(el => el.removeAttribute(markAttr));

	const attempts = [];
	for (const c of candidates) {
		const all = gather(c);
		const vis = all.filter(visible);
		attempts.push({strategy: c.strategy, value: c.value, matched: all.length, visible: vis.length});
		if (vis.length === 0) continue;
		vis.sort((a, b) => area(b) - area(a) ||
			(a.compareDocumentPosition(b) & Node.DOCUMENT_POSITION_FOLLOWING ? -1 : 1));
		vis[0].setAttribute(markAttr, '1');
		return {ok: true, strategy: c.strategy, value: c.value};
	}
	return {ok: false, attempts};
}`

type resolveOutcome struct {
	OK       bool   `json:"ok"`
	Strategy string `json:"strategy"`
	Value    string `json:"value"`
	Attempts []struct {
		Strategy string `json:"strategy"`
		Value    string `json:"value"`
		Matched  int    `json:"matched"`
		Visible  int    `json:"visible"`
	} `json:"attempts"`
}

// resolve runs candidate resolution and returns the marked rod element plus a
// description of the winning candidate.
func (d *rodDriver) resolve(ctx context.Context, t types.Target) (*rod.Element, string, error) {
	page, err := d.currentPage()
	if err != nil {
		return nil, "", err
	}

	cands := orderCandidates(t)
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      resolveJS,
		JSArgs:  []interface{}{cands, markAttr},
		ByValue: true,
	})
	if err != nil {
		return nil, "", classify(err, types.KindDriver, "resolve target")
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, "", types.WrapError(types.KindDriver, err, "decode resolve outcome")
	}
	var outcome resolveOutcome
	if err := json.Unmarshal(raw, &outcome); err != nil {
		return nil, "", types.WrapError(types.KindDriver, err, "decode resolve outcome")
	}

	if !outcome.OK {
		d.log.Debug("target not found", zap.Any("attempts", outcome.Attempts))
		return nil, "", types.NewError(types.KindTargetNotFound, "no visible element matches any candidate").
			WithContext("attempts", outcome.Attempts)
	}

	el, err := page.Context(ctx).Element("[" + markAttr + "]")
	if err != nil {
		return nil, "", classify(err, types.KindTargetNotFound, "fetch resolved element")
	}
	return el, outcome.Strategy + ":" + outcome.Value, nil
}

// unmark clears the resolution marker; failure is harmless.
func (d *rodDriver) unmark(ctx context.Context) {
	page, err := d.currentPage()
	if err != nil {
		return
	}
	_, _ = page.Context(ctx).Eval(`(attr) => {
		document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
	}`, markAttr)
}

// orderCandidates returns the target's candidates sorted by the fixed
// strategy order, preserving the recorded order within a strategy.
func orderCandidates(t types.Target) []types.TargetCandidate {
	rank := make(map[types.TargetStrategy]int, len(types.ResolutionOrder))
	for i, s := range types.ResolutionOrder {
		rank[s] = i
	}
	cands := t.Candidates()
	sort.SliceStable(cands, func(i, j int) bool {
		return rank[cands[i].Strategy] < rank[cands[j].Strategy]
	})
	return cands
}

// snapshotJS collects the visible interactive elements used for instruction
// scoring, with a best-effort CSS selector per element.
const snapshotJS = `() => {
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width <= 0 || r.height <= 0) return false;
		const s = window.getComputedStyle(el);
		return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
	};
	const selectorFor = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && parts.length < 4) {
			let part = node.tagName.toLowerCase();
			const parent = node.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter(c => c.tagName === node.tagName);
				if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(node) + 1) + ')';
			}
			parts.unshift(part);
			node = parent;
		}
		return parts.join(' > ');
	};
	const els = Array.from(document.querySelectorAll(
		'input, button, a, select, textarea, [role=button], [contenteditable=true]'))
		.filter(visible);
	return els.map((el, i) => {
		const r = el.getBoundingClientRect();
		return {
			index: i,
			tag: el.tagName.toLowerCase(),
			role: el.getAttribute('role') || '',
			type: el.type || '',
			text: (el.textContent || '').trim().slice(0, 120),
			placeholder: el.getAttribute('placeholder') || '',
			name: el.getAttribute('name') || '',
			aria_label: el.getAttribute('aria-label') || '',
			id: el.id || '',
			class: el.className && el.className.baseVal !== undefined ? '' : (el.className || ''),
			title: el.getAttribute('title') || '',
			value: el.value !== undefined ? String(el.value).slice(0, 120) : '',
			selector: selectorFor(el),
			area: r.width * r.height,
		};
	});
}`

func (d *rodDriver) Snapshot(ctx context.Context) (*types.PageSnapshot, error) {
	page, err := d.currentPage()
	if err != nil {
		return nil, err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return nil, classify(err, types.KindDriver, "page info")
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: snapshotJS, ByValue: true})
	if err != nil {
		return nil, classify(err, types.KindDriver, "collect elements")
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, types.WrapError(types.KindDriver, err, "marshal elements")
	}
	var elements []types.Element
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, types.WrapError(types.KindDriver, err, "decode elements")
	}
	return &types.PageSnapshot{URL: info.URL, Title: info.Title, Elements: elements}, nil
}
