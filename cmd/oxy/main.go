package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "oxy"
	app.Usage = "render glTF scenes through the oxy store and drawlist pipeline"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "load configuration from a .toml or .yaml file",
		},
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable debug logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable debug logging with caller and stack traces",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "open a window and render the scene",
			Description: `
Open a window, build the default scene, import the given glTF/GLB files and render
until the window is closed. A/D and W/S orbit the camera, Q/E zoom, shift turns the
orbit keys into panning and space pauses animation.`,
			ArgsUsage: "asset1.gltf asset2.glb ...",
			Flags: append(overrideFlags(),
				cli.IntFlag{
					Name:  "width",
					Usage: "window width",
				},
				cli.IntFlag{
					Name:  "height",
					Usage: "window height",
				},
				cli.StringFlag{
					Name:  "present-mode",
					Usage: "fifo, mailbox or immediate",
				},
				cli.Float64Flag{
					Name:  "fps-limit",
					Usage: "cap the frame rate (0 = uncapped)",
				},
			),
			Action: runScene,
		},
		{
			Name:  "bench",
			Usage: "render frames headlessly and print statistics",
			Description: `
Build the scene on a recording driver, import the given files, run a fixed number
of frames with a fixed time step and print import and per-frame statistics.`,
			ArgsUsage: "asset1.gltf asset2.glb ...",
			Flags: append(overrideFlags(),
				cli.IntFlag{
					Name:  "frames, n",
					Value: 600,
					Usage: "number of frames to run",
				},
				cli.Float64Flag{
					Name:  "dt",
					Value: 1.0 / 60,
					Usage: "time step in seconds",
				},
			),
			Action: benchScene,
		},
		{
			Name:      "inspect",
			Usage:     "print store pools, arenas and sort key layouts",
			ArgsUsage: "asset1.gltf asset2.glb ...",
			Flags:     overrideFlags(),
			Action:    inspectScene,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// overrideFlags are the config overrides shared by every command.
func overrideFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "sort-policy",
			Usage: "opaque pass depth ordering: default or back_to_front",
		},
		cli.BoolFlag{
			Name:  "no-default-scene",
			Usage: "do not build the ground, mirror and cubes",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "importer worker count",
		},
		cli.BoolFlag{
			Name:  "virtual-arena",
			Usage: "back the store arena with reserved virtual memory",
		},
	}
}
