package orchestrator

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// command is one parsed saveload invocation
type command struct {
	verb string
	args []string
}

// parseCommand splits text shell-style. ok is false when the text does not
// start with the prefix; a malformed line starting with it parses as unknown.
func parseCommand(prefix, text string) (command, bool) {
	words, err := shellquote.Split(text)
	if err != nil {
		if strings.HasPrefix(strings.TrimSpace(text), prefix) {
			return command{}, true
		}
		return command{}, false
	}
	if len(words) == 0 || words[0] != prefix {
		return command{}, false
	}
	if len(words) == 1 {
		return command{}, true
	}
	return command{verb: words[1], args: words[2:]}, true
}

// valid reports whether the argument count fits the verb
func (c command) valid() bool {
	switch c.verb {
	case "help", "cancel":
		return true
	case "backup":
		return len(c.args) <= 1
	case "list", "confirm":
		return len(c.args) == 0
	case "restore":
		if len(c.args) != 1 {
			return false
		}
		if c.args[0] == "last" {
			return true
		}
		_, err := strconv.Atoi(c.args[0])
		return err == nil
	default:
		return false
	}
}

func (o *Orchestrator) dispatch(in InputEvent) error {
	cmd, ok := parseCommand(o.prefix, in.Text)
	if !ok {
		return nil
	}

	replier := in.Replier
	if replier == nil {
		replier = discardReplier{}
	}

	if !cmd.valid() {
		log.Printf("[Orchestrator] Unknown command from %s: %q", in.Actor, in.Text)
		msg := fmt.Sprintf("Unknown command. Type \"%s help\" for help.", o.prefix)
		replier.Tell(msg)
		return &CommandError{Err: ErrUnknownCommand, Message: msg}
	}

	var err error
	switch cmd.verb {
	case "help":
		o.help(replier)
	case "backup":
		remark := ""
		if len(cmd.args) == 1 {
			remark = cmd.args[0]
		}
		err = o.backup(in, replier, remark)
	case "list":
		o.list(replier)
	case "restore":
		err = o.restore(in, replier, cmd.args[0])
	case "confirm":
		err = o.confirm(in, replier)
	case "cancel":
		o.cancel(in.Actor, replier)
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		replier.Tell(cmdErr.Message)
	}
	return err
}

func (o *Orchestrator) help(r Replier) {
	p := o.prefix
	r.Tell("Welcome to saveload!\n" +
		"You are able to use the following commands:\n" +
		fmt.Sprintf("\"%s help\": show this help message.\n", p) +
		fmt.Sprintf("\"%s list\": list the existing backups.\n", p) +
		fmt.Sprintf("\"%s backup [remark]\": make a backup for the current server. You can add a remark by adding this optional argument to the end of the command.\n", p) +
		fmt.Sprintf("\"%s restore <last | int:id>\": use the selected backup to restore the server. You can use keyword \"last\" to indicate the latest backup. This command requires confirmation.\n", p) +
		fmt.Sprintf("\"%s confirm\": confirm the restoration. Once confirmed, the count down will start immediately.\n", p) +
		fmt.Sprintf("\"%s cancel\": cancel the restoration. Can be called before or after confirmation.", p))
}

func (o *Orchestrator) list(r Replier) {
	records := o.registry.List()
	if len(records) == 0 {
		r.Tell("There is no existing backup.")
		return
	}

	r.Tell("Backups:")
	for i, record := range records {
		remark := record.Remark
		if remark == "" {
			remark = "None"
		}
		r.Tell(fmt.Sprintf("%d: made by %s at %s, remark: %s, size: %s", i, record.Actor, record.CreatedAt, remark, record.Size))
	}
}

type discardReplier struct{}

func (discardReplier) Tell(string) {}
func (discardReplier) Warn(string) {}
