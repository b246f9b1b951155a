// Package challenge implements the typing challenge a user must
// complete to emergency-disable enforcement, ported directly from
// original_source/src/challenge.rs's run_challenge/simple_confirm.
package challenge

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

const chars = "abcdefghijklmnopqrstuvwxyz0123456789"

const maxConsecutiveErrors = 3

// DefaultDuration is the emergency-disable challenge length when the
// agent config doesn't override it (config.HardcoreConfig.EmergencyDisableChallenge).
const DefaultDuration = 300 * time.Second

// now is overridden in tests so the challenge loop doesn't actually
// have to wait out a real multi-minute duration.
var now = time.Now

// RunChallenge requires the user to correctly retype a fresh random
// string every prompt, continuously, for duration. Three wrong
// answers in a row, "abort", or an I/O error end the challenge early.
func RunChallenge(in io.Reader, out io.Writer, duration time.Duration) bool {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "\n=== MOONSTONE EMERGENCY DISABLE ===")
	fmt.Fprintf(out, "To disable Moonstone, you must type continuously for %d seconds.\n", int(duration.Seconds()))
	fmt.Fprintln(out, "Type each challenge string exactly as shown.")
	fmt.Fprintln(out, "Three wrong answers in a row end the challenge.")
	fmt.Fprintln(out, "Press ENTER to begin...")

	if _, err := readLine(reader); err != nil {
		return false
	}

	start := now()
	consecutiveErrors := 0

	for now().Sub(start) < duration {
		remaining := duration - now().Sub(start)

		length, err := randomLength()
		if err != nil {
			return false
		}
		want, err := generateChallenge(length)
		if err != nil {
			return false
		}

		fmt.Fprintf(out, "[%3ds remaining] Type: %s  > ", int(remaining.Seconds()), want)

		typed, err := readLine(reader)
		if err != nil {
			return false
		}

		switch {
		case typed == want:
			consecutiveErrors = 0
			fmt.Fprintln(out, "  OK")
		case strings.EqualFold(typed, "abort"):
			fmt.Fprintln(out, "\nChallenge aborted.")
			return false
		default:
			consecutiveErrors++
			fmt.Fprintf(out, "  WRONG (%d/%d)\n", consecutiveErrors, maxConsecutiveErrors)
			if consecutiveErrors >= maxConsecutiveErrors {
				fmt.Fprintln(out, "\nToo many errors. Challenge failed.")
				fmt.Fprintln(out, "Wait 60 seconds before trying again.")
				return false
			}
		}
	}

	fmt.Fprintln(out, "\n=== CHALLENGE COMPLETE ===")
	fmt.Fprintln(out, "Moonstone will be disabled until the next block period.")
	return true
}

// SimpleConfirm asks the user to retype phrase exactly, for
// less-critical confirmations than RunChallenge.
func SimpleConfirm(in io.Reader, out io.Writer, phrase string) bool {
	fmt.Fprintf(out, "Type '%s' to confirm:\n> ", phrase)
	typed, err := readLine(bufio.NewReader(in))
	if err != nil {
		return false
	}
	return typed == phrase
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func randomLength() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(5)) // 0..4
	if err != nil {
		return 0, err
	}
	return int(n.Int64()) + 8, nil // 8..12
}

func generateChallenge(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b.WriteByte(chars[n.Int64()])
	}
	return b.String(), nil
}
