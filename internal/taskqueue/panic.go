package taskqueue

import "fmt"

func panicToError(r interface{}) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("task panicked: %w", err)
	}
	return fmt.Errorf("task panicked: %v", r)
}
