package risk

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// AssessMethod is the full gRPC method name served by risk model processes.
const AssessMethod = "/riskmodel.RiskModel/Assess"

// #region client-struct
// RemoteEstimator calls a trained risk model over gRPC. Messages are
// google.protobuf.Struct so no generated stubs are needed on either side.
type RemoteEstimator struct {
	conn   *grpc.ClientConn
	client grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewRemoteEstimator connects to the risk model service.
func NewRemoteEstimator(addr string) (*RemoteEstimator, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &RemoteEstimator{conn: conn, client: conn}, nil
}

// NewRemoteEstimatorWithConn creates a RemoteEstimator over an existing connection.
// The caller keeps ownership of cc.
func NewRemoteEstimatorWithConn(cc grpc.ClientConnInterface) *RemoteEstimator {
	return &RemoteEstimator{client: cc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection if this estimator opened it.
func (r *RemoteEstimator) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// #endregion close

// #region assess
// Assess implements Estimator. Transport errors and malformed replies wrap ErrEstimatorFault.
func (r *RemoteEstimator) Assess(ctx context.Context, f Features) (Assessment, error) {
	req, err := EncodeFeatures(f)
	if err != nil {
		return Assessment{}, fmt.Errorf("encode features: %w: %w", ErrEstimatorFault, err)
	}
	resp := new(structpb.Struct)
	if err := r.client.Invoke(ctx, AssessMethod, req, resp); err != nil {
		return Assessment{}, fmt.Errorf("assess rpc: %w: %w", ErrEstimatorFault, err)
	}
	a, err := DecodeAssessment(resp)
	if err != nil {
		return Assessment{}, err
	}
	if err := Validate(a); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// #endregion assess

// #region wire
// EncodeFeatures converts features into the wire message.
func EncodeFeatures(f Features) (*structpb.Struct, error) {
	nearby := make([]any, 0, len(f.Nearby))
	for _, a := range f.Nearby {
		nearby = append(nearby, map[string]any{
			"id":        a.ID,
			"dx":        a.DX,
			"dy":        a.DY,
			"dvx":       a.DVX,
			"dvy":       a.DVY,
			"same_lane": a.SameLane,
		})
	}
	return structpb.NewStruct(map[string]any{
		"tick":               f.Tick,
		"speed":              f.Speed,
		"has_leader":         f.HasLeader,
		"following_distance": f.FollowingDistance,
		"closing_speed":      f.ClosingSpeed,
		"lateral_offset":     f.LateralOffset,
		"lane_width":         f.LaneWidth,
		"nearby":             nearby,
		"drop_rate":          f.DropRate,
		"mean_noise":         f.MeanNoise,
		"horizon":            f.Horizon,
	})
}

// DecodeFeatures is the inverse of EncodeFeatures.
func DecodeFeatures(s *structpb.Struct) Features {
	m := s.GetFields()
	f := Features{
		Tick:              int(m["tick"].GetNumberValue()),
		Speed:             m["speed"].GetNumberValue(),
		HasLeader:         m["has_leader"].GetBoolValue(),
		FollowingDistance: m["following_distance"].GetNumberValue(),
		ClosingSpeed:      m["closing_speed"].GetNumberValue(),
		LateralOffset:     m["lateral_offset"].GetNumberValue(),
		LaneWidth:         m["lane_width"].GetNumberValue(),
		DropRate:          m["drop_rate"].GetNumberValue(),
		MeanNoise:         m["mean_noise"].GetNumberValue(),
		Horizon:           m["horizon"].GetNumberValue(),
	}
	for _, v := range m["nearby"].GetListValue().GetValues() {
		a := v.GetStructValue().GetFields()
		f.Nearby = append(f.Nearby, RelativeAgent{
			ID:       a["id"].GetStringValue(),
			DX:       a["dx"].GetNumberValue(),
			DY:       a["dy"].GetNumberValue(),
			DVX:      a["dvx"].GetNumberValue(),
			DVY:      a["dvy"].GetNumberValue(),
			SameLane: a["same_lane"].GetBoolValue(),
		})
	}
	return f
}

// EncodeAssessment converts an assessment into the wire message.
func EncodeAssessment(a Assessment) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"probability":     structpb.NewNumberValue(a.Probability),
		"horizon_seconds": structpb.NewNumberValue(a.HorizonSeconds),
	}}
}

// DecodeAssessment reads an assessment reply. A missing probability is a fault.
func DecodeAssessment(s *structpb.Struct) (Assessment, error) {
	p, ok := s.GetFields()["probability"]
	if !ok {
		return Assessment{}, fmt.Errorf("%w: reply has no probability", ErrEstimatorFault)
	}
	if _, isNum := p.GetKind().(*structpb.Value_NumberValue); !isNum {
		return Assessment{}, fmt.Errorf("%w: probability is not a number", ErrEstimatorFault)
	}
	return Assessment{
		Probability:    p.GetNumberValue(),
		HorizonSeconds: s.GetFields()["horizon_seconds"].GetNumberValue(),
	}, nil
}

// #endregion wire
