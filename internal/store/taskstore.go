package store

import (
	"fmt"

	"github.com/chatmesh/mediator-go/internal/processor"
	"github.com/chatmesh/mediator-go/internal/taskqueue"
)

// Compile-time interface checks.
var (
	_ processor.MessageStore = (*Store)(nil)
	_ taskqueue.QueueStore   = (*Store)(nil)
)

// AppendTask persists one serialized task at the tail of the queue.
func (s *Store) AppendTask(blob []byte) (int64, error) {
	res, err := s.db.Exec("INSERT INTO task_queue (record) VALUES (?)", blob)
	if err != nil {
		return 0, fmt.Errorf("store: append task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: append task: %w", err)
	}
	return id, nil
}

// DeleteTask removes one persisted task.
func (s *Store) DeleteTask(id int64) error {
	if _, err := s.db.Exec("DELETE FROM task_queue WHERE position = ?", id); err != nil {
		return fmt.Errorf("store: delete task: %w", err)
	}
	return nil
}

// LoadTasks returns all persisted tasks in enqueue order.
func (s *Store) LoadTasks() ([]taskqueue.StoredTask, error) {
	rows, err := s.db.Query("SELECT position, record FROM task_queue ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("store: load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []taskqueue.StoredTask
	for rows.Next() {
		var st taskqueue.StoredTask
		if err := rows.Scan(&st.ID, &st.Blob); err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		tasks = append(tasks, st)
	}
	return tasks, rows.Err()
}
