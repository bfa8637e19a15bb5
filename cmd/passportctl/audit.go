package main

import (
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/socialpassport/passport-registry/pkg/passport"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Read the audit log (admin)",
}

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit events, newest first",
		Args:  cobra.NoArgs,
		RunE:  runAuditList,
	}
	listCmd.Flags().Int64("passport", 0, "Only events for this passport")
	listCmd.Flags().String("entity-type", "", "passport, status, transition or version")
	listCmd.Flags().String("actor", "", "Only events by this user")
	listCmd.Flags().String("action", "", "Only this action, e.g. version.create")
	listCmd.Flags().String("event-type", "", "entity or request")
	addPageFlags(listCmd)

	getCmd := &cobra.Command{
		Use:   "get <event-id>",
		Short: "Show one audit event",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuditGet,
	}

	auditCmd.AddCommand(listCmd, getCmd)
}

func printAuditEvents(list passport.AuditEventList) {
	rows := make([][]string, 0, len(list.Events))
	for _, e := range list.Events {
		entity := e.EntityType
		if e.EntityID != 0 {
			entity += "/" + strconv.FormatInt(e.EntityID, 10)
		}
		rows = append(rows, []string{e.CreatedAt, e.Actor, e.Action, entity, e.Outcome})
	}
	printTable([]string{"Time", "Actor", "Action", "Entity", "Outcome"}, rows)
	if list.NextPageToken != "" {
		_, _ = stdout.Write([]byte("\nNext page token: " + list.NextPageToken + "\n"))
	}
}

func runAuditList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if id, _ := cmd.Flags().GetInt64("passport"); id > 0 {
		q.Set("passportId", strconv.FormatInt(id, 10))
	}
	for flag, param := range map[string]string{
		"entity-type": "entityType",
		"actor":       "actor",
		"action":      "action",
		"event-type":  "eventType",
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			q.Set(param, v)
		}
	}

	var list passport.AuditEventList
	if err := newClient().getJSON(withQuery(apiBase+"/audit/events", pageQuery(cmd, q)), &list); err != nil {
		return err
	}
	return render(list, func() { printAuditEvents(list) })
}

func runAuditGet(cmd *cobra.Command, args []string) error {
	var e passport.AuditEvent
	if err := newClient().getJSON(apiBase+"/audit/events/"+url.PathEscape(args[0]), &e); err != nil {
		return err
	}
	return render(e, func() {
		printAuditEvents(passport.AuditEventList{Events: []passport.AuditEvent{e}})
	})
}
