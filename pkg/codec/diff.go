package codec

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type opKind byte

const (
	opEqual  opKind = ' '
	opDelete opKind = '-'
	opInsert opKind = '+'
)

type lineOp struct {
	kind opKind
	text string
	eol  bool
}

type lineHunk struct {
	oldStart, oldCount int
	newStart, newCount int
	ops                []lineOp
}

// lineOps diffs before and after line by line.
func lineOps(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, table)

	var ops []lineOp
	for _, d := range diffs {
		kind := opEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = opDelete
		case diffmatchpatch.DiffInsert:
			kind = opInsert
		}
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l == "" {
				continue
			}
			ops = append(ops, lineOp{kind: kind, text: strings.TrimSuffix(l, "\n"), eol: strings.HasSuffix(l, "\n")})
		}
	}
	return ops
}

// lineHunks groups changed lines into hunks with ctx lines of context,
// merging hunks whose context would overlap.
func lineHunks(before, after string, ctx int) []lineHunk {
	ops := lineOps(before, after)
	n := len(ops)
	oldBefore := make([]int, n+1)
	newBefore := make([]int, n+1)
	for k, op := range ops {
		oldBefore[k+1], newBefore[k+1] = oldBefore[k], newBefore[k]
		if op.kind != opInsert {
			oldBefore[k+1]++
		}
		if op.kind != opDelete {
			newBefore[k+1]++
		}
	}

	var hunks []lineHunk
	for i := 0; i < n; {
		for i < n && ops[i].kind == opEqual {
			i++
		}
		if i >= n {
			break
		}
		start := max(0, i-ctx)
		end := i
		for {
			for end < n && ops[end].kind != opEqual {
				end++
			}
			j := end
			for j < n && ops[j].kind == opEqual {
				j++
			}
			if j < n && j-end <= 2*ctx {
				end = j
				continue
			}
			break
		}
		stop := min(n, end+ctx)

		h := lineHunk{ops: ops[start:stop]}
		h.oldCount = oldBefore[stop] - oldBefore[start]
		h.newCount = newBefore[stop] - newBefore[start]
		h.oldStart = oldBefore[start]
		if h.oldCount > 0 {
			h.oldStart++
		}
		h.newStart = newBefore[start]
		if h.newCount > 0 {
			h.newStart++
		}
		hunks = append(hunks, h)
		i = stop
	}
	return hunks
}

func renderUnified(oldName, newName, before, after string) string {
	if before == after {
		return ""
	}
	label := func(prefix, name string) string {
		if name == devNull {
			return devNull
		}
		return prefix + name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", label("a/", oldName), label("b/", newName))
	for _, h := range lineHunks(before, after, 3) {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.oldStart, h.oldCount, h.newStart, h.newCount)
		for _, op := range h.ops {
			b.WriteByte(byte(op.kind))
			b.WriteString(op.text)
			b.WriteByte('\n')
			if !op.eol {
				b.WriteString("\\ No newline at end of file\n")
			}
		}
	}
	return b.String()
}

// RenderDiff returns a unified diff of path from before to after, or "" when
// they are equal.
func RenderDiff(path, before, after string) string {
	return renderUnified(path, path, before, after)
}

// DiffStat counts added and removed lines between before and after.
func DiffStat(before, after string) (added, removed int) {
	for _, op := range lineOps(before, after) {
		switch op.kind {
		case opInsert:
			added++
		case opDelete:
			removed++
		}
	}
	return added, removed
}
