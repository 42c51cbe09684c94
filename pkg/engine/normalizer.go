package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// AllocationGroupPrefix prefixes the extra-data keys listing the member
	// parameter ids of each allocation group.
	AllocationGroupPrefix = "AllocationParamNames"

	// ReportFusionKey is the extra-data key that turns an evaluation request
	// into a grouping request.
	ReportFusionKey = "reportFusion"
)

// AllocationGroup is the ordered list of parameter ids that describe one
// interchangeable allocation group.
type AllocationGroup struct {
	Index   int
	Members []string
}

// Cluster is one line of the grouping answer: groups that received identical
// work. The first group is the electee, the rest are followers.
type Cluster struct {
	Electee   int
	Followers []int
}

// AllocationGroups reads the AllocationParamNames<i> entries of cfg for
// i = 0, 1, ... until the first missing index.
func AllocationGroups(cfg *Configuration) ([]AllocationGroup, error) {
	var groups []AllocationGroup
	for i := 0; ; i++ {
		var members []string
		found, err := cfg.DecodeExtraData(AllocationGroupPrefix+strconv.Itoa(i), &members)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		groups = append(groups, AllocationGroup{Index: i, Members: members})
	}
	for i := 1; i < len(groups); i++ {
		if g := groups[i]; len(g.Members) != len(groups[0].Members) {
			return nil, NewDeserializationError(fmt.Sprintf(
				"allocation group %d has %d members, group 0 has %d",
				g.Index, len(g.Members), len(groups[0].Members)), nil)
		}
	}
	return groups, nil
}

// ParseClusters parses the grouping answer. Each non-empty line lists
// whitespace-separated group indices.
func ParseClusters(output string, groupCount int) ([]Cluster, error) {
	var clusters []Cluster
	for n, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		indices := make([]int, len(fields))
		for i, f := range fields {
			idx, err := strconv.Atoi(f)
			if err != nil {
				return nil, NewNormalizationOracleError(fmt.Sprintf("unparseable grouping line %d: %q", n+1, line), err)
			}
			if idx < 0 || idx >= groupCount {
				return nil, NewNormalizationOracleError(fmt.Sprintf(
					"grouping line %d names group %d, only %d groups exist", n+1, idx, groupCount), nil)
			}
			indices[i] = idx
		}
		clusters = append(clusters, Cluster{Electee: indices[0], Followers: indices[1:]})
	}
	return clusters, nil
}

// AllocationNormalizer collapses candidates that differ only by a relabeling
// of interchangeable allocation groups. It asks the harness which groups
// receive identical work and copies each electee's member values onto its
// followers.
type AllocationNormalizer struct {
	transport Transport
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewAllocationNormalizer creates a normalizer that sends grouping requests
// through transport.
func NewAllocationNormalizer(transport Transport, logger zerolog.Logger) *AllocationNormalizer {
	return &AllocationNormalizer{
		transport: transport,
		logger:    logger.With().Str("component", "normalizer").Logger(),
		tracer:    tracer(),
	}
}

// Normalize rewrites follower groups of candidate in place and returns the
// number of follower groups rewritten. A configuration without allocation
// groups is left alone and the harness is not contacted.
func (n *AllocationNormalizer) Normalize(ctx context.Context, cfg *Configuration, candidate Store) (int, error) {
	groups, err := AllocationGroups(cfg)
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, nil
	}

	ctx, span := n.tracer.Start(ctx, "normalize",
		trace.WithAttributes(attribute.Int("groups", len(groups))))
	defer span.End()

	doc, err := EncodeWithOptions(cfg, EncodeOptions{
		ExtraData: map[string]ExtraData{
			ReportFusionKey: {TypeTag: BooleanUniverseType, Payload: []byte("true")},
		},
	})
	if err != nil {
		return 0, err
	}

	resp, err := n.transport.Deliver(ctx, &Request{Document: doc, Purpose: PurposeGrouping})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, NewNormalizationOracleError("grouping request failed", err)
	}
	if resp.TimedOut {
		span.SetStatus(codes.Error, "timeout")
		return 0, NewNormalizationOracleError("grouping request timed out", nil)
	}
	if stderr := strings.TrimSpace(resp.Stderr); stderr != "" {
		span.SetStatus(codes.Error, "oracle error output")
		return 0, NewNormalizationOracleError("grouping request reported an error", nil).
			WithDetail("stderr", stderr)
	}

	clusters, err := ParseClusters(resp.Stdout, len(groups))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	followers := 0
	for _, c := range clusters {
		for _, f := range c.Followers {
			if f == c.Electee {
				continue
			}
			if err := copyGroup(cfg, candidate, groups[c.Electee], groups[f]); err != nil {
				return followers, err
			}
			followers++
		}
	}

	span.SetAttributes(attribute.Int("followers", followers))
	n.logger.Debug().
		Int("groups", len(groups)).
		Int("clusters", len(clusters)).
		Int("followers", followers).
		Msg("Normalized allocation groups")
	return followers, nil
}

func copyGroup(cfg *Configuration, candidate Store, electee, follower AllocationGroup) error {
	for i, srcID := range electee.Members {
		dstID := follower.Members[i]
		src, ok := cfg.Lookup(srcID)
		if !ok {
			return NewDeserializationError(fmt.Sprintf("allocation group %d names unknown parameter %q", electee.Index, srcID), nil)
		}
		dst, ok := cfg.Lookup(dstID)
		if !ok {
			return NewDeserializationError(fmt.Sprintf("allocation group %d names unknown parameter %q", follower.Index, dstID), nil)
		}
		if err := dst.Set(candidate, src.Get(candidate)); err != nil {
			return err
		}
		if err := dst.Materialize(candidate); err != nil {
			return err
		}
	}
	return nil
}
