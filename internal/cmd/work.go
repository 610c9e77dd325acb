package cmd

import (
	"context"
	"io"
	"strings"

	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/coordination"
	"github.com/Iron-Ham/packline/internal/deeplink"
	"github.com/Iron-Ham/packline/internal/errors"
	"github.com/Iron-Ham/packline/internal/fulfillment"
)

const scanUsage = "usage: scan <sku> [qty]"

const workHelp = `Commands:
  scan <sku> [qty]    record a scan (qty defaults to 1)
  status              show the session
  refresh             re-fetch the session from the server
  complete            complete the session (all items must be done)
  force-complete      complete with missing items (admin only)
  cancel              cancel the session
  link                print the session's deep link
  requests            list takeover requests from other users
  accept [message]    hand the session to the latest requester
  decline [message]   refuse the latest takeover request
  quit                leave, saving the session as a draft
`

// workLoop reads commands until the user quits, input ends, or the
// session stops being ours.
func workLoop(ctx context.Context, a *app, hub *coordination.Hub, sess *api.Session) error {
	ctrl := hub.Controller()
	printSession(a.term, sess)
	a.term.Printf("Type \"help\" for commands.\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctrl.OnChange(func() {
		switch ctrl.State() {
		case fulfillment.StateRevoked, fulfillment.StateCompleted, fulfillment.StateCancelled, fulfillment.StateDraftAvailable:
			cancel()
		}
	})

	for {
		a.term.Printf("%s> ", sess.OrderNumber)
		line, err := a.term.ReadLine(ctx)
		if errors.Is(err, io.EOF) {
			a.term.Printf("\n")
			return nil
		}
		if err != nil {
			return leaveReason(ctrl)
		}

		verb, args := splitArgs(line)
		done, err := workCommand(ctx, a, hub, sess, verb, args)
		if err != nil {
			a.term.Error(err)
		}
		if done {
			return nil
		}
	}
}

// leaveReason explains why the loop stopped on its own.
func leaveReason(ctrl *fulfillment.Controller) error {
	snap := ctrl.Snapshot()
	switch snap.State {
	case fulfillment.StateRevoked:
		if snap.Revocation != nil {
			return errors.New(fulfillment.RevokeMessage(*snap.Revocation))
		}
		return errors.New("this session is no longer yours")
	case fulfillment.StateDraftAvailable:
		if snap.Release != nil {
			return errors.New(fulfillment.ReleaseMessage(snap.Order, *snap.Release))
		}
		return errors.New("this session was saved as a draft")
	case fulfillment.StateCompleted, fulfillment.StateCancelled:
		return nil
	}
	return nil
}

// workCommand runs one interactive command and reports whether the loop
// should end.
func workCommand(ctx context.Context, a *app, hub *coordination.Hub, sess *api.Session, verb string, args []string) (bool, error) {
	ctrl := hub.Controller()
	switch verb {
	case "":
		return false, nil

	case "help", "?":
		a.term.Printf("%s", workHelp)

	case "scan", "s":
		if len(args) == 0 {
			return false, errors.New(scanUsage)
		}
		raw := "1"
		if len(args) > 1 {
			raw = args[1]
		}
		var res *api.ScanResult
		qty, err := fulfillment.ParseQuantity(raw)
		if err == nil {
			res, err = ctrl.Scan(ctx, sess.SessionID, args[0], qty, a.cfg.Fulfillment.ScanField)
		}
		if err != nil {
			if errors.Is(err, errors.ErrInvalidInput) {
				a.term.Printf("%s\n", scanUsage)
			}
			return false, err
		}
		a.term.Printf("%s\n", scanMessage(args[0], res))
		if s := ctrl.Session(); s != nil && s.AllItemsComplete() {
			a.term.Printf("%s\n", a.term.styles.SuccessMsg.Render("All items complete. Type \"complete\" to finish."))
		}

	case "status":
		if s := ctrl.Session(); s != nil {
			printSession(a.term, s)
		}

	case "refresh":
		s, err := ctrl.Refresh(ctx)
		if err != nil {
			return false, err
		}
		printSession(a.term, s)

	case "complete":
		if err := ctrl.Complete(ctx, sess.SessionID); err != nil {
			return false, err
		}
		a.term.Printf("Order %s completed\n", sess.OrderNumber)
		return true, nil

	case "force-complete":
		if err := ctrl.ForceComplete(ctx, sess.SessionID); err != nil {
			return false, err
		}
		a.term.Printf("Order %s completed\n", sess.OrderNumber)
		return true, nil

	case "cancel":
		if err := ctrl.Cancel(ctx, sess.SessionID); err != nil {
			return false, err
		}
		a.term.Printf("Order %s cancelled\n", sess.OrderNumber)
		return true, nil

	case "link":
		path, err := deeplink.Generate(a.cfg.Fulfillment.BasePath, sess.OrderNumber, sess.InvoiceNumber)
		if err != nil {
			return false, err
		}
		a.term.Printf("%s\n", path)

	case "requests":
		reqs := hub.Negotiator().Incoming()
		if len(reqs) == 0 {
			a.term.Printf("No pending takeover requests\n")
		}
		for _, r := range reqs {
			who := r.RequesterName
			if who == "" {
				who = r.RequesterID
			}
			a.term.Printf("  %s  %s\n", who, r.Message)
		}

	case "accept", "decline":
		reqs := hub.Negotiator().Incoming()
		if len(reqs) == 0 {
			return false, errors.New("no pending takeover request")
		}
		latest := reqs[len(reqs)-1]
		accept := verb == "accept"
		if err := hub.Negotiator().Respond(ctx, latest, accept, strings.Join(args, " ")); err != nil {
			return false, err
		}
		if !accept {
			a.term.Printf("Declined\n")
			return false, nil
		}
		// Leaving drafts the session so the requester can claim it.
		a.term.Printf("Handed over. Saving as draft.\n")
		return true, nil

	case "quit", "exit", "q":
		a.term.Printf("Saving as draft\n")
		return true, nil

	default:
		return false, errors.New("unknown command " + verb + ` (type "help")`)
	}
	return false, nil
}
