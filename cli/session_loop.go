package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/coterm/coterm-core/conversation"
	"github.com/coterm/coterm-core/manager"
)

// runSessionLoop drives an interactive session on stdin/stdout until the
// user quits or input ends. Returns whether the session should be saved on
// close.
func runSessionLoop(m *manager.Manager, sess *manager.Session, saveOnExit bool) bool {
	sess.SetOutput(func(line string) {
		fmt.Println(line)
	})
	defer sess.SetOutput(nil)

	fmt.Printf("session %q ready in %s\n", sess.Name(), sess.ProjectPath)
	fmt.Println(`type a prompt, or /save, /name <new-name>, /quit (/quit! to discard)`)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return saveOnExit
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			switch {
			case line == "/quit":
				return saveOnExit
			case line == "/quit!":
				return false
			case line == "/save":
				if _, err := m.Save(sess.ID); err != nil {
					fmt.Println("save failed: " + userMessage(err))
				} else {
					fmt.Println("saved")
				}
			case strings.HasPrefix(line, "/name "):
				name := strings.TrimSpace(strings.TrimPrefix(line, "/name "))
				if err := m.Rename(sess.ID, name); err != nil {
					fmt.Println("rename failed: " + userMessage(err))
				} else {
					fmt.Printf("session renamed to %q\n", name)
				}
			default:
				fmt.Println("unknown command: " + line)
			}
			continue
		}

		if _, err := m.EnsureAgentRunning(sess.ID); err != nil {
			fmt.Println("could not start agent: " + userMessage(err))
			continue
		}
		if err := sess.SendPrompt(line); err != nil {
			fmt.Println("could not send prompt: " + userMessage(err))
		}
	}
}

// finishSession closes the session, saving it unless the user discarded it.
func finishSession(m *manager.Manager, sess *manager.Session, save bool) error {
	id := sess.ID
	todos := sess.State.Todos()
	if err := m.Close(id, save); err != nil {
		return err
	}
	if save {
		if len(todos) > 0 && !conversation.TodosComplete(todos) {
			_, _, done := conversation.CountTodosByStatus(todos)
			fmt.Printf("note: %d todo(s) still open\n", len(todos)-done)
		}
		fmt.Println("session saved, resume with: coterm resume " + id)
	} else {
		fmt.Println("session discarded")
	}
	return nil
}
