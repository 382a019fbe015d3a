package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/EHPCL/RTHeter/internal/ctxlog"
	"github.com/EHPCL/RTHeter/internal/graph"
)

type handler func(args []string) (string, error)

type server struct {
	eng   Engine
	tasks int
	quit  bool
}

// Serve answers protocol commands read line by line from r, one response line
// per command, until quit, EOF or ctx cancellation.
func Serve(ctx context.Context, r io.Reader, w io.Writer, eng Engine) error {
	log := ctxlog.FromContext(ctx)
	s := &server{eng: eng}
	handlers := s.handlers()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	bw := bufio.NewWriter(w)

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(sc.Text())
		resp := s.dispatch(handlers, line)
		log.Debug("engine command", "cmd", line, "resp", resp)

		if _, err := bw.WriteString(resp + "\n"); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if s.quit {
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read command: %w", err)
	}
	return nil
}

func (s *server) dispatch(handlers map[string]handler, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return respUnknown
	}
	h, ok := handlers[fields[0]]
	if !ok {
		return respUnknown
	}
	resp, err := h(fields[1:])
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			return pe.Response
		}
		return respInvalidArgs + ": " + err.Error()
	}
	return resp
}

func (s *server) handlers() map[string]handler {
	return map[string]handler{
		cmdCreateProcessor: s.createProcessor,
		cmdCreateDAGTask:   s.createDAGTask,
		cmdCreateSSTask:    s.createSSTask,
		cmdSetBound: func(args []string) (string, error) {
			n, err := intArgs(args, 1)
			if err != nil {
				return "", err
			}
			if err := s.eng.SetTimeBound(n[0]); err != nil {
				return "", err
			}
			return fmt.Sprintf("Set bound to %d", n[0]), nil
		},
		cmdStart: func([]string) (string, error) {
			if err := s.eng.Start(); err != nil {
				return "", err
			}
			return respReleased, nil
		},
		cmdTime: func([]string) (string, error) {
			t, err := s.eng.CurrentTime()
			return strconv.Itoa(t), err
		},
		cmdProcessorStates: func([]string) (string, error) {
			states, err := s.eng.ProcessorStates()
			if err != nil {
				return "", err
			}
			return encodeProcessorStates(states), nil
		},
		cmdProcessorState: func(args []string) (string, error) {
			n, err := intArgs(args, 1)
			if err != nil {
				return "", err
			}
			states, err := s.eng.ProcessorStates()
			if err != nil {
				return "", err
			}
			if n[0] < 0 || n[0] >= len(states) {
				return "", fmt.Errorf("processor %d out of range", n[0])
			}
			return strings.TrimSpace(encodeProcessorStates(states[n[0] : n[0]+1])), nil
		},
		cmdTaskState: func(args []string) (string, error) {
			n, err := intArgs(args, 1)
			if err != nil {
				return "", err
			}
			ts, err := s.eng.TaskState(n[0])
			if err != nil {
				return "", err
			}
			return encodeTaskState(ts), nil
		},
		cmdSSTaskState: func(args []string) (string, error) {
			n, err := intArgs(args, 1)
			if err != nil {
				return "", err
			}
			ts, err := s.eng.TaskState(n[0])
			if err != nil {
				return "", err
			}
			return encodeSSTaskState(SelfSuspendingStateOf(ts)), nil
		},
		cmdExecution: func([]string) (string, error) {
			executed, err := s.eng.ExecutionStates()
			if err != nil {
				return "", err
			}
			return encodeInts(executed), nil
		},
		cmdVariation: func(args []string) (string, error) {
			n, err := intArgs(args, 2)
			if err != nil {
				return "", err
			}
			if err := s.eng.SetVariation(n[0], n[1]); err != nil {
				return "", err
			}
			return respSet, nil
		},
		cmdParallelFactor: func(args []string) (string, error) {
			if len(args) < 2 {
				return "", fmt.Errorf("want <type> <factor>, got %d arguments", len(args))
			}
			t, err := graph.ParseProcessorType(args[0])
			if err != nil {
				return "", err
			}
			n, err := intArgs(args[1:], 1)
			if err != nil {
				return "", err
			}
			if err := s.eng.SetParallelFactor(t, n[0]); err != nil {
				return "", err
			}
			return respSet, nil
		},
		cmdSchedule: func(args []string) (string, error) {
			n, err := intArgs(args, 3)
			if err != nil {
				return "", err
			}
			if err := s.eng.Schedule(n[0], n[1], n[2]); err != nil {
				return "", err
			}
			return respScheduled, nil
		},
		cmdAdvance: func([]string) (string, error) {
			executed, err := s.eng.Advance()
			if err != nil {
				return "", err
			}
			t, err := s.eng.CurrentTime()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d%s%d", executed, advanceSeparator, t), nil
		},
		cmdCompleted: func([]string) (string, error) {
			return yesOrEmpty(s.eng.Completed())
		},
		cmdMissed: func([]string) (string, error) {
			return yesOrEmpty(s.eng.Missed())
		},
		cmdReset: func([]string) (string, error) {
			if err := s.eng.Reset(); err != nil {
				return respResetErr, nil
			}
			return respResetOK, nil
		},
		cmdQuit: func([]string) (string, error) {
			s.quit = true
			return respExiting, nil
		},
	}
}

func (s *server) createProcessor(args []string) (string, error) {
	if len(args) == 0 {
		return respCreateError, nil
	}
	t, err := graph.ParseProcessorType(args[0])
	if err != nil {
		return respCreateError, nil
	}
	count := 1
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil {
			return respCreateError, nil
		}
	}
	if err := s.eng.CreateProcessors(t, count); err != nil {
		return respCreateError, nil
	}
	return respCreated, nil
}

func (s *server) createDAGTask(args []string) (string, error) {
	t, err := decodeDAGTask(s.tasks, args)
	if err != nil {
		return "", err
	}
	if err := s.eng.CreateDAGTask(t); err != nil {
		return "", err
	}
	s.tasks++
	return respCreated, nil
}

func (s *server) createSSTask(args []string) (string, error) {
	t, err := decodeSSTask(s.tasks, args)
	if err != nil {
		return "", err
	}
	if err := s.eng.CreateDAGTask(t); err != nil {
		return "", err
	}
	s.tasks++
	return respCreated, nil
}

func intArgs(args []string, want int) ([]int, error) {
	if len(args) < want {
		return nil, fmt.Errorf("want %d arguments, got %d", want, len(args))
	}
	out := make([]int, want)
	for i := 0; i < want; i++ {
		n, err := strconv.Atoi(args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %q is not an integer", i, args[i])
		}
		out[i] = n
	}
	return out, nil
}

func yesOrEmpty(ok bool, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if ok {
		return respYes, nil
	}
	return "", nil
}
