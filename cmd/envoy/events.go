package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acmxim/envoy/pkg/types"
)

var newEvent types.NewEvent

// eventsCmd lists upcoming events
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Chapter events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			events, err := s.Events()
			if err != nil {
				return err
			}
			return listView(s.ctx, events.Reconciler, eventLine)
		})
	},
}

var eventsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Schedule an event (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			events, err := s.Events()
			if err != nil {
				return err
			}
			tempID, err := events.Create(newEvent)
			if err := settle(s.ctx, events.Reconciler, tempID, err); err != nil {
				return err
			}
			fmt.Println("Event scheduled.")
			return nil
		})
	},
}

var eventsDeleteCmd = &cobra.Command{
	Use:   "delete <event-id>",
	Short: "Delete an event (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			events, err := s.Events()
			if err != nil {
				return err
			}
			if _, err := waitLoaded(s.ctx, events.Reconciler); err != nil {
				return err
			}
			op, err := events.Delete(args[0])
			if err := settle(s.ctx, events.Reconciler, op, err); err != nil {
				return err
			}
			fmt.Println("Event deleted.")
			return nil
		})
	},
}

func init() {
	f := eventsCreateCmd.Flags()
	f.StringVar(&newEvent.Title, "title", "", "Event title")
	f.StringVar(&newEvent.Description, "description", "", "Event description")
	f.StringVar(&newEvent.Date, "date", "", "Event date (as shown to members)")
	f.StringVar(&newEvent.Location, "location", "", "Venue")
	f.StringVar(&newEvent.RegistrationLink, "registration-link", "", "Registration URL")
	_ = eventsCreateCmd.MarkFlagRequired("title")
	_ = eventsCreateCmd.MarkFlagRequired("date")

	eventsCmd.AddCommand(eventsCreateCmd, eventsDeleteCmd)
}

func eventLine(e types.Event) string {
	line := fmt.Sprintf("%s | %s | %s", e.Title, e.Date, e.Location)
	if e.RegistrationLink != "" {
		line += " | " + e.RegistrationLink
	}
	return line
}
