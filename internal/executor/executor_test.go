package executor

import (
	"context"
	"testing"
	"time"
)

// TestRealCommandExecutor_ExecuteCommand tests the ExecuteCommand method of the RealCommandExecutor.
func TestRealCommandExecutor_ExecuteCommand(t *testing.T) {
	type args struct {
		name string
		args []string
		env  []string
	}
	tests := []struct {
		name       string
		wantStdout string
		wantStderr string
		args       args
		wantErr    bool
	}{
		{
			name: "echo command without error",
			args: args{
				name: "echo",
				args: []string{"hello world"},
				env:  []string{},
			},
			wantStdout: "hello world\n",
			wantStderr: "",
			wantErr:    false,
		},
		{
			name: "echo command with env var",
			args: args{
				name: "bash",
				args: []string{"-c", "echo $TEST_VAR"},
				env:  []string{"TEST_VAR=hello"},
			},
			wantStdout: "hello\n",
			wantStderr: "",
			wantErr:    false,
		},
		{
			name: "stderr is captured",
			args: args{
				name: "bash",
				args: []string{"-c", "echo oops 1>&2; exit 3"},
				env:  []string{},
			},
			wantStdout: "",
			wantStderr: "oops\n",
			wantErr:    true,
		},
		{
			name: "non-existent command",
			args: args{
				name: "nonexistentcmd",
				args: []string{},
				env:  []string{},
			},
			wantStdout: "",
			wantStderr: "",
			wantErr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCommandExecutor()
			gotStdout, gotStderr, err := r.ExecuteCommand(context.TODO(), tt.args.name, tt.args.args, tt.args.env)
			if (err != nil) != tt.wantErr {
				t.Errorf("ExecuteCommand() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if gotStdout != tt.wantStdout {
				t.Errorf("ExecuteCommand() gotStdout = %v, want %v", gotStdout, tt.wantStdout)
			}
			if gotStderr != tt.wantStderr {
				t.Errorf("ExecuteCommand() gotStderr = %v, want %v", gotStderr, tt.wantStderr)
			}
		})
	}
}

func TestRealCommandExecutor_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, err := NewCommandExecutor().ExecuteCommand(ctx, "sleep", []string{"5"}, nil)
	if err == nil {
		t.Fatal("expected error from cancelled command")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("command was not killed on context cancel")
	}
}
