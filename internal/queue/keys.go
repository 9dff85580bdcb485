package queue

import "github.com/walletpulse/walletpulse/internal/domain"

// Key shapes. Job hashes live under job:<queue>:<id>; per-queue state sets
// under q:<queue>:<state>.
func jobKeyPrefix(name domain.QueueName) string { return "job:" + string(name) + ":" }

func jobKey(name domain.QueueName, id string) string { return jobKeyPrefix(name) + id }

func waitKey(name domain.QueueName) string    { return "q:" + string(name) + ":wait" }
func activeKey(name domain.QueueName) string  { return "q:" + string(name) + ":active" }
func delayedKey(name domain.QueueName) string { return "q:" + string(name) + ":delayed" }
func completedKey(name domain.QueueName) string { return "q:" + string(name) + ":completed" }
func failedKey(name domain.QueueName) string  { return "q:" + string(name) + ":failed" }
func pausedKey(name domain.QueueName) string  { return "q:" + string(name) + ":paused" }
func seqKey(name domain.QueueName) string     { return "q:" + string(name) + ":seq" }

func stateKey(name domain.QueueName, status domain.JobStatus) string {
	switch status {
	case domain.JobWaiting:
		return waitKey(name)
	case domain.JobActive:
		return activeKey(name)
	case domain.JobDelayed:
		return delayedKey(name)
	case domain.JobCompleted:
		return completedKey(name)
	case domain.JobFailed:
		return failedKey(name)
	}
	return ""
}
