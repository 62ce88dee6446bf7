package merge

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chazu/sketchgraph/pkg/network"
)

// VariableAction is what MergeVariables did with one incoming variable.
type VariableAction int

const (
	VariableKept    VariableAction = iota // no name collision
	VariableRenamed                       // collided and was given a free name
	VariableSwapped                       // dependents re-pointed to the existing variable, copy erased
	VariableMerged                        // redundant copy erased
)

func (a VariableAction) String() string {
	switch a {
	case VariableKept:
		return "kept"
	case VariableRenamed:
		return "renamed"
	case VariableSwapped:
		return "swapped"
	case VariableMerged:
		return "merged"
	default:
		return "VariableAction(" + strconv.Itoa(int(a)) + ")"
	}
}

// VariableResult reports the outcome for one incoming variable.
type VariableResult struct {
	ID     network.ObjectID
	Action VariableAction
	Into   network.ObjectID // VariableSwapped and VariableMerged
	Name   string           // final name
}

// MergeVariables deduplicates the named variables brought in by a copy
// against the variables already in the network. Names compare
// case-insensitively. A colliding variable is renamed when its value or
// expression differs from the existing one, or when dimensions read it;
// otherwise the copy is folded into the existing variable.
func (e *Engine) MergeVariables(incoming []network.ObjectID) []VariableResult {
	in := make(map[network.ObjectID]bool, len(incoming))
	for _, id := range incoming {
		in[id] = true
	}
	byID := make(map[network.ObjectID]*network.Variable)
	taken := make(map[string]bool)
	existing := make(map[string]*network.Variable)
	for _, v := range e.host.Variables() {
		byID[v.ID] = v
		if v.Name == "" {
			continue
		}
		taken[strings.ToLower(v.Name)] = true
		if !in[v.ID] {
			existing[strings.ToLower(v.Name)] = v
		}
	}

	ids := append([]network.ObjectID(nil), incoming...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []VariableResult
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			continue
		}
		res := VariableResult{ID: id, Action: VariableKept, Name: v.Name}
		old, collides := existing[strings.ToLower(v.Name)]
		if v.Name == "" || !collides {
			out = append(out, res)
			continue
		}

		loadBearing := len(e.host.ValueDependents(id)) > 0
		switch {
		case loadBearing || !sameDefinition(v, old):
			name := freeName(v.Name, taken)
			e.rename(v, name, in, byID)
			taken[strings.ToLower(name)] = true
			res.Action, res.Name = VariableRenamed, name

		case len(copyDependents(v, in, byID)) > 0:
			if err := e.host.RepointDependents(id, old.ID); err != nil {
				e.log.Warn("variable swap failed", zap.Int64("variable", int64(id)), zap.Error(err))
				out = append(out, res)
				continue
			}
			e.host.EraseVariable(id)
			res.Action, res.Into, res.Name = VariableSwapped, old.ID, old.Name

		default:
			e.host.EraseVariable(id)
			res.Action, res.Into, res.Name = VariableMerged, old.ID, old.Name
		}
		e.log.Debug("variable merged",
			zap.Int64("variable", int64(id)),
			zap.Stringer("action", res.Action),
			zap.String("name", res.Name))
		out = append(out, res)
	}
	return out
}

func sameDefinition(a, b *network.Variable) bool {
	return a.Value == b.Value && strings.EqualFold(strings.TrimSpace(a.Expression), strings.TrimSpace(b.Expression))
}

// copyDependents lists the incoming variables whose expressions reference v.
func copyDependents(v *network.Variable, in map[network.ObjectID]bool, byID map[network.ObjectID]*network.Variable) []*network.Variable {
	var out []*network.Variable
	for id := range in {
		o, ok := byID[id]
		if !ok || o.ID == v.ID || o.Expression == "" {
			continue
		}
		for _, ref := range network.References(o.Expression) {
			if strings.EqualFold(ref, v.Name) {
				out = append(out, o)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// rename gives v a new name and rewrites the expressions of the other
// incoming variables that referenced it. Variables already in the network
// keep referencing the existing variable.
func (e *Engine) rename(v *network.Variable, name string, in map[network.ObjectID]bool, byID map[network.ObjectID]*network.Variable) {
	for _, o := range copyDependents(v, in, byID) {
		o.Expression = network.ReplaceReference(o.Expression, v.Name, name)
	}
	v.Name = name
}

// freeName returns the first name of the form base<n> not yet taken,
// continuing from a numeric suffix the name already carries.
func freeName(name string, taken map[string]bool) string {
	base := strings.TrimRightFunc(name, func(r rune) bool { return r >= '0' && r <= '9' })
	n := 1
	if suffix := name[len(base):]; suffix != "" {
		if v, err := strconv.Atoi(suffix); err == nil {
			n = v + 1
		}
	}
	if base == "" {
		base = "v"
	}
	for {
		cand := base + strconv.Itoa(n)
		if !taken[strings.ToLower(cand)] {
			return cand
		}
		n++
	}
}
