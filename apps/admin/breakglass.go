package main

import (
	"context"
	"fmt"
	"time"
)

// sweep ends the expired break-glass sessions once, as the API's background sweeper does.
func (cli *commandLine) sweep() error {
	cnt, err := cli.bgSvc.SweepExpired(context.Background(), time.Now().UTC())
	fmt.Printf("%d expired break-glass session(s) ended\n", cnt)
	return err
}

// deactivate ends a break-glass session as a system action.
func (cli *commandLine) deactivate(userID string) error {
	return cli.bgSvc.Deactivate(context.Background(), userID, "")
}
