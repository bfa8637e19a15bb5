package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/socialpassport/passport-registry/pkg/passport"
)

var versionsCmd = &cobra.Command{
	Use:     "versions",
	Aliases: []string{"version"},
	Short:   "Browse and append passport versions",
}

func init() {
	listCmd := &cobra.Command{
		Use:   "list <passport-id>",
		Short: "List versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runVersionsList,
	}
	addPageFlags(listCmd)

	getCmd := &cobra.Command{
		Use:   "get <passport-id> <version>",
		Short: "Show one version with its data",
		Args:  cobra.ExactArgs(2),
		RunE:  runVersionsGet,
	}

	createCmd := &cobra.Command{
		Use:   "create <passport-id>",
		Short: "Append a version (curator)",
		Args:  cobra.ExactArgs(1),
		RunE:  runVersionsCreate,
	}
	createCmd.Flags().StringP("data-file", "f", "", "JSON or YAML file with the version data, - for stdin (required)")
	createCmd.Flags().String("comment", "", "Change comment")
	_ = createCmd.MarkFlagRequired("data-file")

	versionsCmd.AddCommand(listCmd, getCmd, createCmd)
}

func printVersions(items []passport.PassportVersion, next string) {
	rows := make([][]string, 0, len(items))
	for _, v := range items {
		rows = append(rows, []string{
			strconv.Itoa(v.Version),
			v.CreatedBy,
			v.CreatedAt,
			truncate(v.Comment, 50),
		})
	}
	printTable([]string{"Version", "Author", "Created", "Comment"}, rows)
	if next != "" {
		fmt.Fprintf(stdout, "\nNext page token: %s\n", next)
	}
}

func runVersionsList(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	var list passport.PassportVersionList
	if err := newClient().getJSON(withQuery(passportPath(id, "/versions"), pageQuery(cmd, nil)), &list); err != nil {
		return err
	}
	return render(list, func() { printVersions(list.Items, list.NextPageToken) })
}

func runVersionsGet(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	version, err := parseID(args[1], "version")
	if err != nil {
		return err
	}
	var v passport.PassportVersion
	if err := newClient().getJSON(passportPath(id, fmt.Sprintf("/versions/%d", version)), &v); err != nil {
		return err
	}
	return render(v, func() {
		printVersions([]passport.PassportVersion{v}, "")
		fmt.Fprintln(stdout)
		_ = printYAML(v.Data)
	})
}

func runVersionsCreate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0], "passport ID")
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("data-file")
	data, err := readDataFile(path)
	if err != nil {
		return err
	}
	req := passport.CreateVersionRequest{Data: data}
	req.Comment, _ = cmd.Flags().GetString("comment")

	var v passport.PassportVersion
	if err := newClient().postJSON(passportPath(id, "/versions"), req, &v); err != nil {
		return err
	}
	return render(v, func() { printVersions([]passport.PassportVersion{v}, "") })
}
