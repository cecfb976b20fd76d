package transaction

import (
	"slices"
	"strings"

	"rpmkit/internal/depset"
	"rpmkit/internal/rpmerr"
)

type edge struct {
	to     int
	prereq bool
}

// dependencyEdges links each element to the first other element that
// satisfies each of its requirements.
func dependencyEdges(elems []*Element) [][]edge {
	edges := make([][]edge, len(elems))
	for i, e := range elems {
		for _, r := range e.Header.Records(depset.Requires) {
			for j, other := range elems {
				if j != i && provides(other.Header, r) {
					edges[i] = append(edges[i], edge{to: j, prereq: r.Flags&depset.SensePrereq != 0})
					break
				}
			}
		}
	}
	return edges
}

// sortElements puts every element after the elements it requires. Loops
// are broken at a plain Requires edge; a loop made only of PreReq edges
// cannot be broken and is an error.
func sortElements(elems []*Element) ([]*Element, error) {
	edges := dependencyEdges(elems)
	out := make([]*Element, 0, len(elems))
	processed := make(map[int]bool)
	inProgress := make(map[int]int)
	var stack []int
	var via []bool

	var visit func(i int, prereq bool) error
	visit = func(i int, prereq bool) error {
		if processed[i] {
			return nil
		}
		if pos, ok := inProgress[i]; ok {
			hard := prereq
			for k := pos + 1; k < len(stack) && hard; k++ {
				hard = via[k]
			}
			if !hard {
				return nil
			}
			names := make([]string, 0, len(stack)-pos+1)
			for _, k := range stack[pos:] {
				names = append(names, elems[k].NVR())
			}
			names = append(names, elems[i].NVR())
			return rpmerr.Newf(rpmerr.ErrOrderCycle, "PreReq loop: %s", strings.Join(names, " -> ")).
				WithDetail("packages", names)
		}

		inProgress[i] = len(stack)
		stack = append(stack, i)
		via = append(via, prereq)
		for _, ed := range edges[i] {
			if err := visit(ed.to, ed.prereq); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		via = via[:len(via)-1]
		delete(inProgress, i)
		processed[i] = true
		out = append(out, elems[i])
		return nil
	}

	for i := range elems {
		if err := visit(i, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Order sorts installs so that required packages go first, then erasures
// so that packages go before the packages they require.
func (t *Transaction) Order() error {
	if t.state != StateChecked {
		return rpmerr.Newf(rpmerr.ErrInvalidState, "cannot order a %s transaction", t.state)
	}
	var installs, erases []*Element
	for _, e := range t.elements {
		if e.Kind == ElementInstall {
			installs = append(installs, e)
		} else {
			erases = append(erases, e)
		}
	}

	ordered, err := sortElements(installs)
	if err != nil {
		return err
	}
	eraseOrder, err := sortElements(erases)
	if err != nil {
		return err
	}
	slices.Reverse(eraseOrder)

	t.order = append(ordered, eraseOrder...)
	t.state = StateOrdered
	return nil
}
