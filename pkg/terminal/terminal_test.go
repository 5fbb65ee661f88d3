package terminal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestReadLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		stopAt  string
		want    []string
		wantErr bool
	}{
		{
			name:  "all lines",
			input: "one\ntwo\r\n\nthree",
			want:  []string{"one", "two", "three"},
		},
		{
			name:   "eof from callback",
			input:  "one\nquit\ntwo\n",
			stopAt: "quit",
			want:   []string{"one", "quit"},
		},
		{
			name:    "callback error",
			input:   "fail\n",
			stopAt:  "fail",
			want:    []string{"fail"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var got []string
			var out bytes.Buffer
			err := ReadLines(context.Background(), strings.NewReader(tc.input), &out, func(line string) error {
				got = append(got, line)
				if line == tc.stopAt {
					if tc.wantErr {
						return errors.New("boom")
					}
					return io.EOF
				}
				return nil
			})

			if (err != nil) != tc.wantErr {
				t.Fatalf("ReadLines() error = %v, wantErr %v", err, tc.wantErr)
			}
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Errorf("lines = %q, want %q", got, tc.want)
			}
			if out.Len() != 0 {
				t.Errorf("prompt written for non-terminal input: %q", out.String())
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	if IsTerminal(strings.NewReader("x")) {
		t.Error("IsTerminal() = true for a strings.Reader")
	}
}
