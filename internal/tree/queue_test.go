package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadyQueue_Order(t *testing.T) {
	a, b, c := newNode("a"), newNode("b"), newNode("c")
	p, q := newNode("p"), newNode("q")

	var rq readyQueue
	rq.push(edge{child: a, parent: p, counter: 1})
	rq.push(edge{child: b, parent: q, counter: 1})
	rq.push(edge{child: c, parent: q, counter: 1})
	rq.push(edge{child: a, parent: q, counter: 7})
	assert.Equal(t, 4, rq.len())

	var got []string
	for {
		e, ok := rq.pop()
		if !ok {
			break
		}
		got = append(got, e.child.id+"->"+e.parent.id)
	}
	assert.Equal(t, []string{"a->q", "a->p", "b->q", "c->q"}, got)
}

func TestReadyQueue_PopEmpty(t *testing.T) {
	var rq readyQueue
	_, ok := rq.pop()
	assert.False(t, ok)
}
