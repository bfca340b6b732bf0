// Package dispatch 提供单消费者的跨上下文任务队列。
// 提交方把任务投递给所属上下文（设备管理循环）执行，并在结果槽上限时等待；
// 超时后提交方放弃结果槽，任务仍会被执行一次，结果被丢弃。
package dispatch

import (
	"errors"
	"time"
)

var (
	// ErrTimeout 等待执行结果超时
	ErrTimeout = errors.New("dispatch timeout")
	// ErrQueueFull 任务队列已满
	ErrQueueFull = errors.New("dispatch queue full")
)

// Result 任务执行结果
type Result struct {
	OK      bool   // 是否成功
	Value   string // 返回值
	Message string // 提示消息
}

// Pending 已入队待执行的任务，持有独立的结果槽
type Pending struct {
	run  func() Result
	done chan Result
}

// Execute 在所属上下文中运行任务并写入结果槽
// 结果槽容量为1且仅写一次，提交方超时放弃后写入也不会阻塞
func (p *Pending) Execute() {
	p.done <- p.run()
}

// Dispatcher 单消费者任务队列
// 仅允许一个上下文消费 Queue()，任务按入队顺序逐个执行
type Dispatcher struct {
	tasks chan *Pending
}

// New 创建任务队列，queueSize 为待执行任务的缓冲上限
func New(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Dispatcher{tasks: make(chan *Pending, queueSize)}
}

// Queue 返回待执行任务通道，由所属上下文循环取出并 Execute
func (d *Dispatcher) Queue() <-chan *Pending {
	return d.tasks
}

// Len 当前待执行任务数
func (d *Dispatcher) Len() int {
	return len(d.tasks)
}

// Cap 任务缓冲容量
func (d *Dispatcher) Cap() int {
	return cap(d.tasks)
}

// Submit 入队一个任务，不等待结果
func (d *Dispatcher) Submit(run func() Result) error {
	p := &Pending{run: run, done: make(chan Result, 1)}
	select {
	case d.tasks <- p:
		return nil
	default:
		return ErrQueueFull
	}
}

// Call 入队任务并等待结果，整体超时涵盖入队与执行
// 返回 ErrTimeout 时任务可能尚未执行，稍后仍会被消费方执行一次
func (d *Dispatcher) Call(run func() Result, timeout time.Duration) (Result, error) {
	p := &Pending{run: run, done: make(chan Result, 1)}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d.tasks <- p:
	case <-timer.C:
		return Result{}, ErrTimeout
	}

	select {
	case r := <-p.done:
		return r, nil
	case <-timer.C:
		return Result{}, ErrTimeout
	}
}
