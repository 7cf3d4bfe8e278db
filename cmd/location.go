package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/punch-scheduler/internal/store"
)

func newLocationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Manage check-in locations",
	}
	cmd.AddCommand(newLocationAddCmd())
	cmd.AddCommand(newLocationListCmd())
	cmd.AddCommand(newLocationRemoveCmd())
	return cmd
}

func newLocationAddCmd() *cobra.Command {
	var name string
	var lat, lng, acc float64

	c := &cobra.Command{
		Use:   "add",
		Short: "Add or update a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				if err := st.SaveLocation(ctx, store.Location{
					Name: name, Lat: store.Coord(lat), Lng: store.Coord(lng), Acc: store.Coord(acc),
				}); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "saved location %q (%v,%v)\n", name, lat, lng)
				return nil
			})
		},
	}

	c.Flags().StringVar(&name, "name", "", "location name (unique)")
	c.Flags().Float64Var(&lat, "lat", 0, "latitude, decimal degrees")
	c.Flags().Float64Var(&lng, "lng", 0, "longitude, decimal degrees")
	c.Flags().Float64Var(&acc, "acc", 0, "accuracy/altitude")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("lat")
	_ = c.MarkFlagRequired("lng")
	return c
}

func newLocationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				locations, err := st.Locations(ctx)
				if err != nil {
					return err
				}
				for _, l := range locations {
					fmt.Fprintf(os.Stdout, "name=%q lat=%v lng=%v acc=%v\n", l.Name, float64(l.Lat), float64(l.Lng), float64(l.Acc))
				}
				return nil
			})
		},
	}
}

func newLocationRemoveCmd() *cobra.Command {
	var name string
	c := &cobra.Command{
		Use:   "remove",
		Short: "Remove a location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.Store) error {
				if err := st.DeleteLocation(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "removed location %q\n", name)
				return nil
			})
		},
	}
	c.Flags().StringVar(&name, "name", "", "location name")
	_ = c.MarkFlagRequired("name")
	return c
}
