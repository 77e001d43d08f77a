package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

func newMoveCmd() *cobra.Command {
	var (
		robotID     uint32
		x, y        float64
		orientation float64
		dribbler    bool
		autokick    bool
	)

	cmd := &cobra.Command{
		Use:   "move",
		Short: "Send a Move primitive to a robot",
		Long: `Builds a Move primitive and dispatches it through primd.

Examples:
  primctl move --robot 3 --x 1.0 --y 2.0 --orientation 0.5
  primctl move --robot 1 --x 0 --y 0 --dribbler`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mv := primitive.NewMove(robotID, primitive.MoveParams{
				Destination:      primitive.Point{X: x, Y: y},
				FinalOrientation: orientation,
				Dribbler:         dribbler,
				Autokick:         autokick,
			})
			return dispatchMessage(primitive.Encode(mv))
		},
	}

	cmd.Flags().Uint32Var(&robotID, "robot", 0, "target robot id")
	cmd.Flags().Float64Var(&x, "x", 0, "destination x (m)")
	cmd.Flags().Float64Var(&y, "y", 0, "destination y (m)")
	cmd.Flags().Float64Var(&orientation, "orientation", 0, "final orientation (rad)")
	cmd.Flags().BoolVar(&dribbler, "dribbler", false, "run the dribbler while moving")
	cmd.Flags().BoolVar(&autokick, "autokick", false, "kick when the ball is reached")
	cmd.MarkFlagRequired("robot")
	return cmd
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <json|->",
		Short: "Send a raw primitive record",
		Long: `Sends a primitive record as JSON, e.g.
  primctl send '{"name":"Move","robot_id":3,"parameters":[1,2,0.5],"flags":[true,false]}'
Use "-" to read the record from stdin. primd validates the record before it
reaches the bus.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readRecord(args[0])
			if err != nil {
				return err
			}
			var msg primitive.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("parse record: %w", err)
			}
			return dispatchMessage(msg)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently dispatched primitives",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp protocol.HistoryResponse
			if err := apiGet(fmt.Sprintf("/api/v1/primitives/history?limit=%d", limit), &resp); err != nil {
				return err
			}
			if len(resp.Entries) == 0 {
				fmt.Println("No primitives dispatched.")
				return nil
			}
			for _, e := range resp.Entries {
				fmt.Printf("%6d  %s  robot %-3d %-10s params=%v flags=%v\n",
					e.Sequence, e.PublishedAt.Format("15:04:05.000"),
					e.Message.RobotID, e.Message.Name,
					e.Message.Parameters, e.Message.Flags,
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <json|->",
		Short: "Decode a primitive record locally without contacting primd",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readRecord(args[0])
			if err != nil {
				return err
			}
			p, err := primitive.Unmarshal(data)
			if err != nil {
				return err
			}
			fmt.Printf("Name:        %s\n", p.Name())
			fmt.Printf("Robot:       %d\n", p.RobotID())
			if mv, ok := p.(*primitive.Move); ok {
				d := mv.Destination()
				fmt.Printf("Destination: (%g, %g)\n", d.X, d.Y)
				fmt.Printf("Orientation: %g\n", mv.FinalOrientation())
				fmt.Printf("Dribbler:    %v\n", mv.Dribbler())
				fmt.Printf("Autokick:    %v\n", mv.Autokick())
				return nil
			}
			fmt.Printf("Parameters:  %v\n", p.Parameters())
			fmt.Printf("Flags:       %v\n", p.Flags())
			return nil
		},
	}
}

func dispatchMessage(msg primitive.Message) error {
	var resp protocol.DispatchResponse
	if err := apiPost("/api/v1/primitives", msg, &resp); err != nil {
		return err
	}
	fmt.Printf("Dispatched %s to robot %d (id %s)\n", resp.Name, resp.RobotID, resp.ID)
	return nil
}

func readRecord(arg string) ([]byte, error) {
	if arg != "-" {
		return []byte(strings.TrimSpace(arg)), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}
