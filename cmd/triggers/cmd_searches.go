package main

import (
	"time"

	"github.com/spf13/cobra"

	"parceltriggers/internal/cli"
	"parceltriggers/internal/delivery"
	"parceltriggers/internal/model"
	"parceltriggers/internal/taxonomy"
	"parceltriggers/internal/watchlist"
)

var searchesCmd = &cobra.Command{
	Use:   "searches",
	Short: "Manage saved searches",
}

var searchAddFlags struct {
	id       string
	name     string
	county   string
	parcels  []string
	minScore int
	groups   []string
	keys     []string
	tiers    []string
	channels []string
	inactive bool
}

var searchesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or replace a saved search",
	Args:  cobra.NoArgs,
	RunE:  runSearchesAdd,
}

var searchesListFlags struct {
	limit int
}

var searchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active saved searches",
	Args:  cobra.NoArgs,
	RunE:  runSearchesList,
}

func init() {
	f := searchesAddCmd.Flags()
	f.StringVar(&searchAddFlags.id, "id", "", "Saved search id (default: new id)")
	f.StringVar(&searchAddFlags.name, "name", "", "Name (required)")
	f.StringVar(&searchAddFlags.county, "county", "", "County (required)")
	f.StringSliceVar(&searchAddFlags.parcels, "parcels", nil, "Restrict to these parcel ids")
	f.IntVar(&searchAddFlags.minScore, "min-score", 0, "Minimum seller score")
	f.StringSliceVar(&searchAddFlags.groups, "any-groups", nil, "Require a signal in at least one of these groups")
	f.StringSliceVar(&searchAddFlags.keys, "keys", nil, "Require every one of these trigger keys")
	f.StringSliceVar(&searchAddFlags.tiers, "tiers", nil, "Require every one of these tiers")
	f.StringSliceVar(&searchAddFlags.channels, "channels", []string{delivery.ChannelLog}, "Delivery channels: log, kafka, redis")
	f.BoolVar(&searchAddFlags.inactive, "inactive", false, "Store the search without scheduling it")
	_ = searchesAddCmd.MarkFlagRequired("name")
	_ = searchesAddCmd.MarkFlagRequired("county")

	searchesListCmd.Flags().IntVar(&searchesListFlags.limit, "limit", 200, "Maximum searches to list")

	searchesCmd.AddCommand(searchesAddCmd)
	searchesCmd.AddCommand(searchesListCmd)
}

func runSearchesAdd(cmd *cobra.Command, _ []string) error {
	s := model.SavedSearch{
		ID:        searchAddFlags.id,
		Name:      searchAddFlags.name,
		County:    searchAddFlags.county,
		ParcelIDs: searchAddFlags.parcels,
		MinScore:  searchAddFlags.minScore,
		Channels:  searchAddFlags.channels,
		Active:    !searchAddFlags.inactive,
		CreatedAt: time.Now().UTC(),
	}
	if s.ID == "" {
		s.ID = watchlist.NewID()
	}
	for _, g := range searchAddFlags.groups {
		s.RequireAnyGroups = append(s.RequireAnyGroups, taxonomy.Domain(g))
	}
	for _, k := range searchAddFlags.keys {
		s.RequireTriggerKeys = append(s.RequireTriggerKeys, taxonomy.Key(k))
	}
	for _, t := range searchAddFlags.tiers {
		s.RequireTiers = append(s.RequireTiers, taxonomy.Tier(t))
	}
	if err := watchlist.Validate(s, delivery.Known); err != nil {
		return err
	}
	rt, err := cli.Open(cmd.Context(), globalFlags)
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := rt.Store.UpsertSavedSearch(cmd.Context(), s); err != nil {
		return err
	}
	return cli.PrintJSON(cmd.OutOrStdout(), s)
}

func runSearchesList(cmd *cobra.Command, _ []string) error {
	rt, err := cli.Open(cmd.Context(), globalFlags)
	if err != nil {
		return err
	}
	defer rt.Close()
	searches, err := rt.Store.ListActiveSavedSearches(cmd.Context(), searchesListFlags.limit)
	if err != nil {
		return err
	}
	if searches == nil {
		searches = []model.SavedSearch{}
	}
	return cli.PrintJSON(cmd.OutOrStdout(), searches)
}
