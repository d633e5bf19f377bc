// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package client

import (
	"sync"
)

// Job is one unit of dump work. Run receives the worker's own client.
type Job interface {
	Run(c *Client) error
}

// ProcessFunc runs a job on behalf of a worker and deals with its outcome;
// the queue itself never interprets job results.
type ProcessFunc func(c *Client, job Job)

// TaskQueue is a FIFO queue of jobs consumed by a pool of worker threads.
// Each worker owns one long-lived client. Jobs may queue further jobs while
// running; WaitForIdle accounts for that.
type TaskQueue struct {
	process ProcessFunc

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []Job
	busy    int
	stopped bool
	workers sync.WaitGroup
}

// NewTaskQueue creates a queue whose workers handle jobs with process.
func NewTaskQueue(process ProcessFunc) *TaskQueue {
	q := &TaskQueue{process: process}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SpawnWorkers starts count worker threads, each with its own connected
// client from the manager.
func (q *TaskQueue) SpawnWorkers(manager *Manager, count int) {
	for i := 0; i < count; i++ {
		q.workers.Add(1)
		c := manager.NewClient()
		go q.runWorker(c)
	}
}

func (q *TaskQueue) runWorker(c *Client) {
	defer q.workers.Done()
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.process(c, job)
		q.finish()
	}
}

// next blocks until a job is available or the queue is stopped.
func (q *TaskQueue) next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) == 0 && !q.stopped {
		q.cond.Wait()
	}
	if len(q.jobs) == 0 {
		return nil, false
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.busy++
	return job, true
}

func (q *TaskQueue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.busy--
	q.cond.Broadcast()
}

// QueueJob appends a job to the queue.
func (q *TaskQueue) QueueJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.cond.Broadcast()
}

// ClearQueue drops all jobs that have not been picked up yet. Called after a
// worker error so that the remaining work returns promptly.
func (q *TaskQueue) ClearQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
	q.cond.Broadcast()
}

// WaitForIdle blocks until every queued job has been consumed and all
// workers are between jobs.
func (q *TaskQueue) WaitForIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.jobs) > 0 || q.busy > 0 {
		q.cond.Wait()
	}
}

// Stop shuts the queue down; idle workers exit, busy workers exit after
// their current job. Pending jobs are dropped.
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	q.jobs = nil
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.workers.Wait()
}
