package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

// shop-api migrate applies the embedded schema and exits.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.db.InitSchema(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("schema applied (%s)\n", rt.db.Driver())
		return nil
	},
}

var revokeAdmin bool

// shop-api grant-admin <email> promotes an existing account.
var grantAdminCmd = &cobra.Command{
	Use:   "grant-admin <email>",
	Short: "Give an existing user admin rights (use --revoke to take them away)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.users.SetAdmin(cmd.Context(), args[0], !revokeAdmin); err != nil {
			return fmt.Errorf("update %s: %w", args[0], err)
		}
		if revokeAdmin {
			fmt.Printf("%s is no longer an admin\n", args[0])
		} else {
			fmt.Printf("%s is now an admin\n", args[0])
		}
		return nil
	},
}

func init() {
	grantAdminCmd.Flags().BoolVar(&revokeAdmin, "revoke", false, "remove admin rights instead")
}

type routeInfo struct {
	method, path string
}

// shop-api routes prints the HTTP surface.
var routeListCmd = &cobra.Command{
	Use:   "routes",
	Short: "List all registered routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.Close()

		var infos []routeInfo
		err = rt.app().Router().Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
			path, err := route.GetPathTemplate()
			if err != nil {
				return nil
			}
			methods, err := route.GetMethods()
			if err != nil {
				return nil
			}
			infos = append(infos, routeInfo{strings.Join(methods, ","), path})
			return nil
		})
		if err != nil {
			return err
		}

		sort.Slice(infos, func(i, j int) bool {
			if infos[i].path != infos[j].path {
				return infos[i].path < infos[j].path
			}
			return infos[i].method < infos[j].method
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "METHOD\tPATH")
		fmt.Fprintln(w, "------\t----")
		for _, ri := range infos {
			fmt.Fprintf(w, "%s\t%s\n", ri.method, ri.path)
		}
		return w.Flush()
	},
}
