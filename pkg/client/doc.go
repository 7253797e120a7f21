/*
Package client talks to a running storeforge serve process.

It reads the standard gRPC health service and follows the live event feed
served on /events. Store requests do not go through this package; the CLI
writes them to the store database directly.

	c, err := client.NewClient(":12001", ":12000")
	if err != nil {
		return err
	}
	defer c.Close()

	status, err := c.Health(ctx, "storeforge.Reconciler")

	err = c.FollowEvents(ctx, "ab12cd34", func(ev *types.StoreEvent) error {
		fmt.Println(ev.Action, ev.Status)
		return nil
	})
*/
package client
