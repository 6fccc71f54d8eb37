package archive

import (
	"fmt"
	"sync/atomic"
)

// TaskKey is the identity used to de-duplicate in-flight tasks.
type TaskKey string

// ObjectID is an explicit identity for a pushable in-memory object. Two pushes of the same object share an ObjectID; structurally equal objects do not.
type ObjectID uint64

var objectGeneration atomic.Uint64

// NewObjectID hands out the next object identity. Never returns zero.
func NewObjectID() ObjectID {
	return ObjectID(objectGeneration.Add(1))
}

// Meta is the archive-side half of a task.
type Meta struct {
	// where the data lives: input of a pull, output of a push
	Locator Locator
	// opaque insert hint handed to the backend on push; never encoded
	Hint string
}

type Task interface {
	// Key is the identity in-flight tasks are de-duplicated on. It need not be printable.
	Key() TaskKey
	// Subject names the task in progress reports, logs and errors.
	Subject() string
}

// PullTask asks for Data to be filled in from Meta.Locator.
type PullTask[T any] struct {
	Meta Meta
	Data T
}

func NewPullTask[T any](loc Locator) *PullTask[T] {
	return &PullTask[T]{Meta: Meta{Locator: loc}}
}

// pulls of the same locator are the same logical task
func (t *PullTask[T]) Key() TaskKey {
	return TaskKey("pull:" + t.Meta.Locator.KeyString())
}

func (t *PullTask[T]) Subject() string {
	return "pull:" + t.Meta.Locator.String()
}

// PushTask asks for Data to be archived; on success Meta.Locator is set.
type PushTask[T any] struct {
	ID   ObjectID
	Meta Meta
	Data T
}

// NewPushTask creates a push of data under the object identity id. A zero id gets a fresh identity, which is never de-duplicated.
func NewPushTask[T any](id ObjectID, data T) *PushTask[T] {
	if id == 0 {
		id = NewObjectID()
	}
	return &PushTask[T]{ID: id, Data: data}
}

func (t *PushTask[T]) Key() TaskKey {
	return TaskKey(t.Subject())
}

func (t *PushTask[T]) Subject() string {
	return fmt.Sprintf("push:%d", t.ID)
}
