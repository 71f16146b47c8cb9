package scheduler

// TaskProducer is implemented by anything that can manufacture its own
// task, typically a configured device operation. The returned task has
// already started eagerly; an error means the producer could not even
// construct it, for example because no device is bound.
type TaskProducer interface {
	ProduceTask() (*Task, error)
}

// ProducerFunc adapts a plain function to the TaskProducer interface.
type ProducerFunc func() (*Task, error)

func (f ProducerFunc) ProduceTask() (*Task, error) { return f() }
