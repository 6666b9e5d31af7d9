// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package luacode

// MarkValueCopyingUpvalues reclassifies the upvalues in the tree rooted at p
// that are never assigned after capture as [UpvalueCopy].
// p is modified in place and should be the main chunk.
//
// Classification is optimistic: every upvalue of the root
// and every [UpvalueParent] upvalue that refers to a copying parent upvalue
// starts as a copy.
// An [OpSetUpval] in a function demotes the upvalue it writes,
// and any upvalue that is demoted in a child
// demotes the parent upvalue it refers to.
// A final pass from the root downward demotes child upvalues
// whose parent upvalue did not stay a copy.
// Upvalues that refer to registers ([UpvalueStack]) are never copies
// below the root.
func MarkValueCopyingUpvalues(p *Prototype) {
	markValueCopyingUpvalues(p, nil)
	finishMarkingValueCopyingUpvalues(p)
}

func markValueCopyingUpvalues(p, parent *Prototype) {
	hasCandidates := false
	for i, upval := range p.Upvalues {
		if parent == nil ||
			upval.Kind == UpvalueParent && isCopyingUpvalue(parent, upval.Index) {
			p.Upvalues[i].Kind = UpvalueCopy
			hasCandidates = true
		}
	}

	if hasCandidates {
		for _, i := range p.Code {
			if i.OpCode() != OpSetUpval {
				continue
			}
			if b := int(i.ArgB()); b < len(p.Upvalues) && p.Upvalues[b].Kind == UpvalueCopy {
				p.Upvalues[b].Kind = UpvalueParent
			}
		}
	}

	for _, child := range p.Functions {
		markValueCopyingUpvalues(child, p)
	}

	if parent != nil {
		for _, upval := range p.Upvalues {
			if upval.Kind == UpvalueParent && isCopyingUpvalue(parent, upval.Index) {
				parent.Upvalues[upval.Index].Kind = UpvalueParent
			}
		}
	}
}

func finishMarkingValueCopyingUpvalues(p *Prototype) {
	for _, child := range p.Functions {
		for j, upval := range child.Upvalues {
			if upval.Kind == UpvalueCopy && !isCopyingUpvalue(p, upval.Index) {
				child.Upvalues[j].Kind = UpvalueParent
			}
		}
		finishMarkingValueCopyingUpvalues(child)
	}
}

func isCopyingUpvalue(p *Prototype, i uint8) bool {
	return int(i) < len(p.Upvalues) && p.Upvalues[i].Kind == UpvalueCopy
}
