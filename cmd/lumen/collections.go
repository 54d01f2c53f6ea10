package main

import (
	"context"
	"fmt"

	"github.com/lumenvec/lumen/internal/logging"
	"github.com/lumenvec/lumen/lumen"
	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Manage lumen collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all collections",
	RunE:  runCollectionsList,
}

var (
	createDimension int
	createMetric    string
)

var collectionsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsCreate,
}

var collectionsDropCmd = &cobra.Command{
	Use:   "drop [name]",
	Short: "Drop a collection and its on-disk state",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsDrop,
}

func init() {
	collectionsCreateCmd.Flags().IntVar(&createDimension, "dimension", 768, "vector dimension")
	collectionsCreateCmd.Flags().StringVar(&createMetric, "metric", "cosine", "distance metric: cosine, l2, dot")

	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsCreateCmd)
	collectionsCmd.AddCommand(collectionsDropCmd)
}

func parseMetric(name string) (lumen.DistanceMetric, error) {
	switch name {
	case "cosine":
		return lumen.CosineDistance, nil
	case "l2":
		return lumen.L2Distance, nil
	case "dot":
		return lumen.InnerProduct, nil
	default:
		return 0, fmt.Errorf("unknown metric %q (want cosine, l2, or dot)", name)
	}
}

func runCollectionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg, logging.Nop())
	if err != nil {
		return err
	}
	defer db.Close()

	for _, name := range db.ListCollections() {
		fmt.Println(name)
	}
	return nil
}

func runCollectionsCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg, logging.Nop())
	if err != nil {
		return err
	}
	defer db.Close()

	metric, err := parseMetric(createMetric)
	if err != nil {
		return err
	}

	_, err = db.CreateCollection(context.Background(), args[0],
		lumen.WithDimension(createDimension),
		lumen.WithMetric(metric),
	)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", args[0], err)
	}

	fmt.Printf("created collection %q (dimension=%d, metric=%s)\n", args[0], createDimension, createMetric)
	return nil
}

func runCollectionsDrop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg, logging.Nop())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.DropCollection(context.Background(), args[0]); err != nil {
		return fmt.Errorf("drop collection %s: %w", args[0], err)
	}

	fmt.Printf("dropped collection %q\n", args[0])
	return nil
}
