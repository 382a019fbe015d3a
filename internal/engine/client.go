package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/EHPCL/RTHeter/internal/graph"
)

// Client speaks the text protocol to an engine, either a spawned binary or
// any reader/writer pair.
type Client struct {
	Bin  string   // path to engine binary (empty for NewConn clients)
	Args []string // extra arguments for the binary

	cmd    *exec.Cmd
	r      *bufio.Reader
	w      *bufio.Writer
	closer io.Closer
	closed bool
}

// NewClient spawns the engine binary and connects to its stdin/stdout. The
// process is killed when ctx is cancelled.
func NewClient(ctx context.Context, bin string, args ...string) (*Client, error) {
	if bin == "" {
		return nil, fmt.Errorf("engine: no binary given")
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("engine %s: stdin: %w", bin, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine %s: stdout: %w", bin, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine %s: start: %w", bin, err)
	}

	c := NewConn(stdout, stdin)
	c.Bin = bin
	c.Args = args
	c.cmd = cmd
	c.closer = stdin
	return c, nil
}

// NewConn wraps an existing connection. If w is an io.Closer it is closed by
// Close.
func NewConn(r io.Reader, w io.Writer) *Client {
	c := &Client{
		r: bufio.NewReader(r),
		w: bufio.NewWriter(w),
	}
	if wc, ok := w.(io.Closer); ok {
		c.closer = wc
	}
	return c
}

// send writes one command line and reads one response line.
func (c *Client) send(command string) (string, error) {
	if c.closed {
		return "", fmt.Errorf("engine %s: client closed", command)
	}
	if _, err := c.w.WriteString(command + "\n"); err != nil {
		return "", fmt.Errorf("engine %s: %w", command, err)
	}
	if err := c.w.Flush(); err != nil {
		return "", fmt.Errorf("engine %s: %w", command, err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("engine %s: %w", command, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// call is send plus error-response detection.
func (c *Client) call(command string) (string, error) {
	resp, err := c.send(command)
	if err != nil {
		return "", err
	}
	if isErrorResponse(resp) {
		return "", &ProtocolError{Command: command, Response: resp}
	}
	return resp, nil
}

func (c *Client) CreateProcessors(t graph.ProcessorType, count int) error {
	_, err := c.call(fmt.Sprintf("%s %s %d", cmdCreateProcessor, t, count))
	return err
}

// CreateDAGTask sends self-suspending tasks as createHeterSSTask and every
// other task as createDAGTask.
func (c *Client) CreateDAGTask(t *graph.Task) error {
	if t.SelfSuspending {
		_, err := c.call(cmdCreateSSTask + " " + encodeSSTask(t))
		return err
	}
	_, err := c.call(cmdCreateDAGTask + " " + encodeDAGTask(t))
	return err
}

func (c *Client) SetTimeBound(ticks int) error {
	_, err := c.call(fmt.Sprintf("%s %d", cmdSetBound, ticks))
	return err
}

func (c *Client) Start() error {
	_, err := c.call(cmdStart)
	return err
}

func (c *Client) CurrentTime() (int, error) {
	resp, err := c.call(cmdTime)
	if err != nil {
		return 0, err
	}
	t, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, &ProtocolError{Command: cmdTime, Response: resp}
	}
	return t, nil
}

func (c *Client) ProcessorStates() ([]ProcessorState, error) {
	resp, err := c.call(cmdProcessorStates)
	if err != nil {
		return nil, err
	}
	states, err := decodeProcessorStates(resp)
	if err != nil {
		return nil, &ProtocolError{Command: cmdProcessorStates, Response: fmt.Sprintf("%s (%v)", resp, err)}
	}
	return states, nil
}

func (c *Client) TaskState(id int) (TaskState, error) {
	command := fmt.Sprintf("%s %d", cmdTaskState, id)
	resp, err := c.call(command)
	if err != nil {
		return TaskState{}, err
	}
	ts, err := decodeTaskState(resp)
	if err != nil {
		return TaskState{}, &ProtocolError{Command: command, Response: fmt.Sprintf("%s (%v)", resp, err)}
	}
	return ts, nil
}

// SelfSuspendingState queries the compact state of a self-suspending task.
func (c *Client) SelfSuspendingState(id int) (SelfSuspendingState, error) {
	command := fmt.Sprintf("%s %d", cmdSSTaskState, id)
	resp, err := c.call(command)
	if err != nil {
		return SelfSuspendingState{}, err
	}
	ss, err := decodeSSTaskState(resp)
	if err != nil {
		return SelfSuspendingState{}, &ProtocolError{Command: command, Response: fmt.Sprintf("%s (%v)", resp, err)}
	}
	return ss, nil
}

func (c *Client) ExecutionStates() ([]int, error) {
	resp, err := c.call(cmdExecution)
	if err != nil {
		return nil, err
	}
	executed, err := atoiAll(strings.Fields(resp))
	if err != nil {
		return nil, &ProtocolError{Command: cmdExecution, Response: fmt.Sprintf("%s (%v)", resp, err)}
	}
	return executed, nil
}

func (c *Client) SetVariation(proc, variation int) error {
	return c.set(fmt.Sprintf("%s %d %d", cmdVariation, proc, variation))
}

func (c *Client) SetParallelFactor(t graph.ProcessorType, factor int) error {
	return c.set(fmt.Sprintf("%s %s %d", cmdParallelFactor, t, factor))
}

func (c *Client) set(command string) error {
	resp, err := c.call(command)
	if err != nil {
		return err
	}
	if strings.TrimSpace(resp) != respSet {
		return &ProtocolError{Command: command, Response: resp}
	}
	return nil
}

func (c *Client) Schedule(proc, task, seg int) error {
	command := fmt.Sprintf("%s %d %d %d", cmdSchedule, proc, task, seg)
	resp, err := c.call(command)
	if err != nil {
		return err
	}
	if resp != respScheduled {
		return &ProtocolError{Command: command, Response: resp}
	}
	return nil
}

func (c *Client) Advance() (int, error) {
	resp, err := c.call(cmdAdvance)
	if err != nil {
		return 0, err
	}
	executed, _, ok := strings.Cut(resp, advanceSeparator)
	if !ok {
		return 0, &ProtocolError{Command: cmdAdvance, Response: resp}
	}
	n, err := strconv.Atoi(strings.TrimSpace(executed))
	if err != nil {
		return 0, &ProtocolError{Command: cmdAdvance, Response: resp}
	}
	return n, nil
}

func (c *Client) Completed() (bool, error) {
	resp, err := c.call(cmdCompleted)
	return strings.TrimSpace(resp) == respYes, err
}

func (c *Client) Missed() (bool, error) {
	resp, err := c.call(cmdMissed)
	return strings.TrimSpace(resp) == respYes, err
}

func (c *Client) Reset() error {
	_, err := c.call(cmdReset)
	return err
}

// Close asks the engine to quit and waits for a spawned process to exit.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	_, quitErr := c.send(cmdQuit)
	c.closed = true
	if errors.Is(quitErr, io.EOF) {
		quitErr = nil
	}
	var closeErr, waitErr error
	if c.closer != nil {
		if err := c.closer.Close(); err != nil {
			closeErr = fmt.Errorf("engine %s: close: %w", c.Bin, err)
		}
	}
	if c.cmd != nil {
		if err := c.cmd.Wait(); err != nil {
			waitErr = fmt.Errorf("engine %s: %w", c.Bin, err)
		}
	}
	return errors.Join(waitErr, closeErr, quitErr)
}
