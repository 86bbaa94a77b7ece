package scheduler

// Status is the lifecycle state of a Task
type Status string

const (
	StatusPlanned    Status = "planned"    // Discovered, waiting for the next round
	StatusProcessing Status = "processing" // Fetch in flight
	StatusFinished   Status = "finished"   // Payload fetched, not yet handled
	StatusHandled    Status = "handled"    // Handler consumed the payload
	StatusFailed     Status = "failed"     // Fetch or handling failed, Err is set
)

// IsTerminal reports whether the task will not change state again during a run
func (s Status) IsTerminal() bool {
	return s == StatusHandled || s == StatusFailed
}

// noSplice marks an Item that holds a leaf value
const noSplice = -1

// Item is one entry of a task's ordered output: either a leaf value or a
// splice marker standing for the expanded items of one of the task's children.
type Item[T any] struct {
	Leaf   T
	Splice int // Index into the owning task's Children, or -1 for a leaf
}

// IsSplice reports whether the item is a splice marker
func (it Item[T]) IsSplice() bool {
	return it.Splice != noSplice
}

// Task is one unit of fetch work in a run's task tree.
// Tasks are never removed from the tree while the run is alive.
type Task[T any] struct {
	Key      string
	Status   Status
	Parent   *Task[T] // nil for the root
	Children []*Task[T]
	Payload  []byte // Set once the fetch succeeds
	Items    []Item[T]
	Err      error
	Depth    int // Root is 0, seeds are 1
}

// AddLeaf appends a leaf value to the task's ordered items
func (t *Task[T]) AddLeaf(v T) {
	t.Items = append(t.Items, Item[T]{Leaf: v, Splice: noSplice})
}

// Spawn creates a planned child task for key and appends a splice marker for
// it at the current position of the task's items.
func (t *Task[T]) Spawn(key string) *Task[T] {
	child := &Task[T]{
		Key:    key,
		Status: StatusPlanned,
		Parent: t,
		Depth:  t.Depth + 1,
	}
	t.Children = append(t.Children, child)
	t.Items = append(t.Items, Item[T]{Splice: len(t.Children) - 1})
	return child
}

// Path returns the keys from the first seed down to t, for diagnostics
func (t *Task[T]) Path() []string {
	var keys []string
	for cur := t; cur != nil && cur.Parent != nil; cur = cur.Parent {
		keys = append([]string{cur.Key}, keys...)
	}
	return keys
}

// Flatten expands the tree below root into a single ordered sequence by
// replacing every splice marker, depth first, with its child's expanded items.
// Failed tasks contribute nothing.
func Flatten[T any](root *Task[T]) []T {
	if root == nil {
		return nil
	}
	type frame struct {
		task *Task[T]
		next int
	}

	var out []T
	stack := []frame{{task: root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.task.Status == StatusFailed || top.next >= len(top.task.Items) {
			stack = stack[:len(stack)-1]
			continue
		}
		item := top.task.Items[top.next]
		top.next++

		if !item.IsSplice() {
			out = append(out, item.Leaf)
			continue
		}
		if item.Splice >= 0 && item.Splice < len(top.task.Children) {
			stack = append(stack, frame{task: top.task.Children[item.Splice]})
		}
	}
	return out
}

// Walk visits every task below and including root in depth-first pre-order
func Walk[T any](root *Task[T], fn func(*Task[T])) {
	if root == nil {
		return
	}
	stack := []*Task[T]{root}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(t)
		for i := len(t.Children) - 1; i >= 0; i-- {
			stack = append(stack, t.Children[i])
		}
	}
}
