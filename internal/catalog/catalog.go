// Package catalog discovers display outputs, fabricates synthetic panels for
// undetected connectors and builds dual-stream pairings. Every panel leaves
// the catalog with a modeset controller matching its protocol.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/fiffeek/modesetcfg/internal/display"
	"github.com/fiffeek/modesetcfg/internal/errs"
	"github.com/fiffeek/modesetcfg/internal/modeset"
	"github.com/fiffeek/modesetcfg/internal/platform"
	"github.com/sirupsen/logrus"
)

// MultiStreamOptions simulate a multi-stream topology with SinkCount sinks
// on the first synthetic DisplayPort connector. SinkCount zero disables the
// simulation.
type MultiStreamOptions struct {
	SinkCount int
	Identity  []byte
	ByteCount int
}

type Options struct {
	Filter           Filter
	IncludeSynthetic bool
	MultiStream      MultiStreamOptions
}

type Entry struct {
	Panel      display.PanelDescriptor
	Controller *modeset.Controller
}

type PairEntry struct {
	Pair       display.PanelPair
	Controller *modeset.Controller
}

type Catalog struct {
	platform platform.Platform
	deps     modeset.Deps
}

func NewCatalog(deps modeset.Deps) *Catalog {
	return &Catalog{platform: deps.Platform, deps: deps}
}

// Enumerate lists the panels matching opts. Synthetic identities injected
// here are owned by the result and released by Result.Close.
func (c *Catalog) Enumerate(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{injector: c.platform}

	detected, err := c.platform.GetDetectedOutputs(ctx)
	if err != nil {
		return nil, fmt.Errorf("cant list detected outputs: %w", err)
	}
	seen := map[display.DisplayID]bool{}
	for _, output := range detected {
		seen[output.Display] = true
		protocol, err := ResolveProtocol(output.Protocol, output.MultiStream)
		if err != nil {
			return nil, fmt.Errorf("output %s on %s: %w", output.Display, output.Connector, err)
		}
		if !opts.Filter.Matches(output.Protocol) {
			logrus.WithFields(logrus.Fields{"connector": output.Connector, "protocol": output.Protocol}).
				Debug("Output filtered out")
			continue
		}
		result.add(display.PanelDescriptor{
			Display:      output.Display,
			ProtocolName: output.Protocol,
			Protocol:     protocol,
			Connector:    output.Connector,
		})
	}

	if opts.IncludeSynthetic {
		if err := c.fabricate(ctx, opts, seen, result); err != nil {
			return nil, errors.Join(err, result.Close(ctx))
		}
	}

	if len(result.Panels) == 0 {
		return nil, errors.Join(
			fmt.Errorf("%w for filter %s", errs.ErrEmptyResult, opts.Filter),
			result.Close(ctx),
		)
	}

	if err := c.attachControllers(result); err != nil {
		return nil, errors.Join(err, result.Close(ctx))
	}

	logrus.WithFields(logrus.Fields{
		"panels": len(result.Panels), "pairs": len(result.Pairs), "filter": opts.Filter.String(),
	}).Info("Panels enumerated")
	return result, nil
}

func (c *Catalog) fabricate(ctx context.Context, opts Options, seen map[display.DisplayID]bool,
	result *Result,
) error {
	supported, err := c.platform.GetSupportedConnectors(ctx)
	if err != nil {
		return fmt.Errorf("cant list supported connectors: %w", err)
	}

	fannedOut := opts.MultiStream.SinkCount == 0
	for _, output := range supported {
		if seen[output.Display] || !opts.Filter.Matches(output.Protocol) {
			continue
		}
		seen[output.Display] = true

		plainDP, _ := ResolveProtocol(output.Protocol, false)
		if !fannedOut && plainDP == display.ProtocolDPSingleStream {
			fannedOut = true
			if err := c.fabricateSinks(ctx, opts.MultiStream, output, result); err != nil {
				return err
			}
			continue
		}

		protocol, err := ResolveProtocol(output.Protocol, output.MultiStream)
		if err != nil {
			logrus.WithFields(logrus.Fields{"connector": output.Connector, "protocol": output.Protocol}).
				WithError(err).Warn("Skipping supported connector with unknown protocol")
			continue
		}
		if err := c.injectPanel(ctx, output, output.Display, protocol, NewIdentity(uint32(output.Display)),
			result); err != nil {
			return err
		}
	}
	return nil
}

// fabricateSinks turns output into a multi-stream topology with one panel
// per sink. The first sink keeps the connector's display id, the others get
// ids from the platform.
func (c *Catalog) fabricateSinks(ctx context.Context, mst MultiStreamOptions, output platform.Output,
	result *Result,
) error {
	protocol, err := ResolveProtocol(output.Protocol, true)
	if err != nil {
		return fmt.Errorf("connector %s: %w", output.Connector, err)
	}
	for sink := range mst.SinkCount {
		id := output.Display
		if sink > 0 {
			id, err = c.platform.AddSyntheticSink(ctx, output.Display)
			if err != nil {
				return fmt.Errorf("cant add sink %d on %s: %w", sink, output.Connector, err)
			}
			result.sinks = append(result.sinks, id)
		}

		identity := NewIdentity(uint32(id))
		if len(mst.Identity) > 0 {
			identity = FitIdentity(mst.Identity, mst.ByteCount)
		}
		if err := c.injectPanel(ctx, output, id, protocol, identity, result); err != nil {
			return err
		}
	}
	logrus.WithFields(logrus.Fields{"connector": output.Connector, "sinks": mst.SinkCount}).
		Debug("Multi-stream topology fabricated")
	return nil
}

func (c *Catalog) injectPanel(ctx context.Context, output platform.Output, id display.DisplayID,
	protocol display.Protocol, identity []byte, result *Result,
) error {
	if err := c.platform.SetSyntheticIdentity(ctx, id, identity); err != nil {
		return fmt.Errorf("cant inject identity for %s on %s: %w", id, output.Connector, err)
	}
	result.add(display.PanelDescriptor{
		Display:      id,
		ProtocolName: output.Protocol,
		Protocol:     protocol,
		Connector:    output.Connector,
		Synthetic:    true,
		Identity:     identity,
	})
	logrus.WithFields(logrus.Fields{
		"connector": output.Connector, "display": id.String(), "protocol": protocol.Value(),
		"identity_bytes": len(identity),
	}).Debug("Synthetic panel fabricated")
	return nil
}

// attachControllers gives every panel its controller and pairs every two
// dual-stream panels of the same multi-stream-ness.
func (c *Catalog) attachControllers(result *Result) error {
	var single, multi []display.PanelHandle
	for i := range result.Panels {
		entry := &result.Panels[i]
		controller, err := modeset.New(entry.Panel, c.deps)
		if err != nil {
			return fmt.Errorf("panel %s: %w", entry.Panel.Name(), err)
		}
		entry.Controller = controller

		switch entry.Panel.Protocol {
		case display.ProtocolDPDualSingleStream:
			single = append(single, entry.Panel.Handle)
		case display.ProtocolDPDualMultiStream:
			multi = append(multi, entry.Panel.Handle)
		}
	}

	for _, group := range [][]display.PanelHandle{single, multi} {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				primary, secondary := result.Descriptor(group[i]), result.Descriptor(group[j])
				controller, err := modeset.NewDual(primary, secondary, c.deps)
				if err != nil {
					return err
				}
				result.Pairs = append(result.Pairs, PairEntry{
					Pair: display.PanelPair{
						Primary:     group[i],
						Secondary:   group[j],
						MultiStream: primary.Protocol.IsMultiStream(),
					},
					Controller: controller,
				})
			}
		}
	}
	return nil
}
