package writer

import (
	"github.com/wudi/scanclean/ir/raw"
)

// collector walks the object graph from the trailer and assigns dense new
// numbers in discovery order.
type collector struct {
	objects map[raw.ObjectRef]raw.Object
	renum   map[raw.ObjectRef]int
	order   []raw.ObjectRef
}

func collect(doc *raw.Document, roots ...raw.Object) *collector {
	c := &collector{objects: doc.Objects, renum: make(map[raw.ObjectRef]int)}
	for _, root := range roots {
		c.visit(root)
	}
	return c
}

func (c *collector) visit(o raw.Object) {
	// Explicit stack; page trees and outline chains can be deep.
	stack := []raw.Object{o}
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		var children []raw.Object
		switch v := o.(type) {
		case raw.RefObj:
			if _, seen := c.renum[v.R]; seen {
				continue
			}
			target, ok := c.objects[v.R]
			if !ok {
				continue
			}
			c.renum[v.R] = len(c.order) + 1
			c.order = append(c.order, v.R)
			children = []raw.Object{target}
		case *raw.ArrayObj:
			children = v.Items
		case *raw.DictObj:
			for _, k := range v.SortedKeys() {
				children = append(children, v.KV[k])
			}
		case *raw.StreamObj:
			if v.Dict == nil {
				continue
			}
			for _, k := range v.Dict.SortedKeys() {
				if k != "Length" {
					children = append(children, v.Dict.KV[k])
				}
			}
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// rewrite returns a copy of o with references renumbered. References to
// unreachable or missing objects become null.
func (c *collector) rewrite(o raw.Object) raw.Object {
	switch v := o.(type) {
	case raw.RefObj:
		if n, ok := c.renum[v.R]; ok {
			return raw.Ref(n, 0)
		}
		return raw.NullObj{}
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, it := range v.Items {
			out.Items[i] = c.rewrite(it)
		}
		return out
	case *raw.DictObj:
		out := raw.Dict()
		for k, val := range v.KV {
			out.KV[k] = c.rewrite(val)
		}
		return out
	case *raw.StreamObj:
		dict := raw.Dict()
		if v.Dict != nil {
			dict = c.rewrite(v.Dict).(*raw.DictObj)
		}
		return raw.NewStream(dict, v.Data)
	case nil:
		return raw.NullObj{}
	}
	return o
}
