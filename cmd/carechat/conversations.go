package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/carechat/pkg/chatapi"
)

func newConversationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List your conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			creds := chatapi.StaticCredential(viper.GetString("token"))
			client := chatapi.NewClient(viper.GetString("server"), creds)
			convs, err := client.FetchConversations(cmd.Context())
			if err != nil {
				if errors.Is(err, chatapi.ErrUnauthorized) {
					return errors.New("authentication required: supply --token or CARECHAT_TOKEN")
				}
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Title, c.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}
