package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rjlee/actual-landg-pension/internal/login"
)

const promptPoll = 250 * time.Millisecond

// promptForCode waits for the coordinator to ask for a one-time code, then
// reads it from in. It returns when ctx is done or in is exhausted.
func promptForCode(ctx context.Context, coord *login.Coordinator, in io.Reader) {
	lines := bufio.NewScanner(in)
	ticker := time.NewTicker(promptPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if coord.Status().Status != login.StatusAwaitingCode {
			continue
		}
		fmt.Print("Enter the SMS code: ")
		if !lines.Scan() {
			return
		}
		coord.SubmitCode(strings.TrimSpace(lines.Text()))
	}
}
