// internal/tasks/errors.go
package tasks

import "fmt"

func errTaskNotFound(id string) error {
	return fmt.Errorf("task %s not found", id)
}
