// Package workload produces the simulated SMS messages the coordinator
// dispatches.
package workload

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/dreamware/smsalert/internal/protocol"
)

const (
	phoneDigits = 9
	maxBodyLen  = 100
)

// Item is one simulated message. IDs are assigned in creation order.
type Item struct {
	Phone string
	Body  string
	ID    int
}

// Message returns the sendmsg document carrying the item.
func (i Item) Message() protocol.SendMsg {
	return protocol.SendMsg{MsgID: i.ID, Phone: i.Phone, Msg: i.Body}
}

// Generator creates n work items with IDs 0..n-1.
type Generator interface {
	Generate(n int) []Item
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(n int) []Item

// Generate calls f(n).
func (f GeneratorFunc) Generate(n int) []Item {
	return f(n)
}

// Random generates nine-digit phone numbers and lowercase bodies of 1 to 100
// letters. It is not safe for concurrent use.
type Random struct {
	rng *rand.Rand
}

// NewRandom returns a Random seeded with seed, so runs can be reproduced.
func NewRandom(seed uint64) *Random {
	return &Random{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Generate implements Generator.
func (r *Random) Generate(n int) []Item {
	items := make([]Item, 0, max(n, 0))
	for id := 0; id < n; id++ {
		items = append(items, Item{ID: id, Phone: r.phone(), Body: r.body()})
	}
	return items
}

func (r *Random) phone() string {
	var b strings.Builder
	b.Grow(phoneDigits)
	for range phoneDigits {
		b.WriteByte(byte('0' + r.rng.IntN(10)))
	}
	return b.String()
}

func (r *Random) body() string {
	n := 1 + r.rng.IntN(maxBodyLen)
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(byte('a' + r.rng.IntN(26)))
	}
	return b.String()
}

// Sequential generates predictable items ("item-0", "item-1", ...) for tests
// and dry runs.
var Sequential = GeneratorFunc(func(n int) []Item {
	items := make([]Item, 0, max(n, 0))
	for id := 0; id < n; id++ {
		items = append(items, Item{ID: id, Phone: fmt.Sprintf("%09d", id), Body: fmt.Sprintf("item-%d", id)})
	}
	return items
})
