package wire

import "time"

// RoleInfo describes one active listening endpoint, as returned by
// ListRoles.
type RoleInfo struct {
	Role string `json:"role"`
	Port uint16 `json:"port"`
	TCP  bool   `json:"tcp"`
	TLS  bool   `json:"tls"`
}

// StartConversationRequest opens a session and binds its identity_id.
type StartConversationRequest struct {
	SupportedVersions []string `json:"supported_versions"`
	ClientChallenge   []byte   `json:"client_challenge"`
	PublicKey         []byte   `json:"public_key"`
}

// StartConversationResponse carries the negotiated version, the
// server's own public key and signature, and both challenges.
type StartConversationResponse struct {
	Version             string `json:"version"`
	ServerPublicKey     []byte `json:"server_public_key"`
	ServerSignature     []byte `json:"server_signature"`
	ServerChallenge     []byte `json:"server_challenge"`
	ClientChallengeEcho []byte `json:"client_challenge_echo"`
}

// VerifyIdentityRequest proves possession of the private key behind
// the session's public key by signing the server's challenge.
type VerifyIdentityRequest struct {
	Signature []byte `json:"signature"`
}

type VerifyIdentityResponse struct{}

// CheckInRequest is identical in shape to VerifyIdentityRequest but
// additionally looks up a hosted identity for this session.
type CheckInRequest struct {
	Signature []byte `json:"signature"`
}

type CheckInResponse struct{}

type ListRolesRequest struct{}

type ListRolesResponse struct {
	Roles []RoleInfo `json:"roles"`
}

// HostingContract is the (deliberately thin, see DESIGN.md open
// question) hosting-plan contract presented at registration time.
type HostingContract struct {
	Type            string `json:"type"`
	PlanID          string `json:"plan_id"`
	IssuerPublicKey []byte `json:"issuer_public_key"`
	IssuerSignature []byte `json:"issuer_signature"`
}

type RegisterHostingRequest struct {
	PublicKey []byte          `json:"public_key"`
	Contract  HostingContract `json:"contract"`
}

type RegisterHostingResponse struct {
	IdentityID string `json:"identity_id"`
}

// UpdateProfileRequest is a partial update: each Set* flag gates
// whether the corresponding field is applied.
type UpdateProfileRequest struct {
	SetVersion bool   `json:"set_version"`
	Version    string `json:"version,omitempty"`

	SetName bool   `json:"set_name"`
	Name    string `json:"name,omitempty"`

	SetType bool   `json:"set_type"`
	Type    string `json:"type,omitempty"`

	SetLocation bool    `json:"set_location"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`

	SetExtraData bool   `json:"set_extra_data"`
	ExtraData    string `json:"extra_data,omitempty"`

	SetImage  bool   `json:"set_image"`
	ImageData []byte `json:"image_data,omitempty"`

	SetThumbnail  bool   `json:"set_thumbnail"`
	ThumbnailData []byte `json:"thumbnail_data,omitempty"`
}

type UpdateProfileResponse struct{}

// CancelHostingAgreementRequest optionally requests a redirect target
// be retained for HostingRedirectRetention.
type CancelHostingAgreementRequest struct {
	Redirect           bool   `json:"redirect"`
	RedirectIdentityID string `json:"redirect_identity_id,omitempty"`
}

type CancelHostingAgreementResponse struct{}

type ApplicationServiceAddRequest struct {
	Name string `json:"name"`
}

type ApplicationServiceAddResponse struct{}

type ApplicationServiceRemoveRequest struct {
	Name string `json:"name"`
}

type ApplicationServiceRemoveResponse struct{}

// RelatedIdentityCard is the wire shape of a related-identity card.
type RelatedIdentityCard struct {
	IdentityID         string    `json:"identity_id"`
	ApplicationID      string    `json:"application_id"`
	CardID             string    `json:"card_id,omitempty"`
	CardVersion        uint32    `json:"card_version"`
	IssuerPublicKey    []byte    `json:"issuer_public_key"`
	IssuerSignature    []byte    `json:"issuer_signature"`
	RecipientPublicKey []byte    `json:"recipient_public_key"`
	RecipientSignature []byte    `json:"recipient_signature"`
	Type               string    `json:"type"`
	ValidFrom          time.Time `json:"valid_from"`
	ValidTo            time.Time `json:"valid_to"`
}

type AddRelatedIdentityRequest struct {
	Card RelatedIdentityCard `json:"card"`
}

type AddRelatedIdentityResponse struct{}

type RemoveRelatedIdentityRequest struct {
	ApplicationID string `json:"application_id"`
}

type RemoveRelatedIdentityResponse struct{}

type GetIdentityRelationshipsInformationRequest struct {
	IdentityID     string `json:"identity_id"`
	Type           string `json:"type,omitempty"`
	Issuer         string `json:"issuer,omitempty"`
	IncludeInvalid bool   `json:"include_invalid"`
}

type GetIdentityRelationshipsInformationResponse struct {
	Cards []RelatedIdentityCard `json:"cards"`
}

// ProfileInfo is the projection of a hosted or neighbor identity
// returned by lookups and search.
type ProfileInfo struct {
	IdentityID          string  `json:"identity_id"`
	PublicKey           []byte  `json:"public_key"`
	Version             string  `json:"version"`
	Name                string  `json:"name"`
	Type                string  `json:"type"`
	Lat                 float64 `json:"lat"`
	Lon                 float64 `json:"lon"`
	ExtraData           string  `json:"extra_data"`
	HasProfileImage     bool    `json:"has_profile_image"`
	HasThumbnailImage   bool    `json:"has_thumbnail_image"`
	ThumbnailImageData  []byte  `json:"thumbnail_image_data,omitempty"`
	IsOnline            bool    `json:"is_online"`
	HostingRedirectID   string  `json:"hosting_redirect_id,omitempty"`
	Expired             bool    `json:"expired"`
	HostingServerID     string  `json:"hosting_server_id,omitempty"`
}

type GetIdentityInformationRequest struct {
	IdentityID string `json:"identity_id"`
}

type GetIdentityInformationResponse struct {
	Profile ProfileInfo `json:"profile"`
}

type CallIdentityApplicationServiceRequest struct {
	TargetIdentityID string `json:"target_identity_id"`
	ServiceName      string `json:"service_name"`
}

type CallIdentityApplicationServiceResponse struct {
	CallerToken string `json:"caller_token"`
}

type IncomingCallNotificationRequest struct {
	CalleeToken     string `json:"callee_token"`
	CallerPublicKey []byte `json:"caller_public_key"`
	ServiceName     string `json:"service_name"`
}

type IncomingCallNotificationResponse struct {
	Accept bool `json:"accept"`
}

type ApplicationServiceSendMessageRequest struct {
	Token   string `json:"token"`
	Payload []byte `json:"payload"`
}

type ApplicationServiceSendMessageResponse struct{}

type ApplicationServiceReceiveMessageNotificationRequest struct {
	Payload []byte `json:"payload"`
}

type ApplicationServiceReceiveMessageNotificationResponse struct{}

type ProfileSearchRequest struct {
	NameWildcard   string `json:"name_wildcard"`
	TypeWildcard   string `json:"type_wildcard"`
	HasCenter      bool   `json:"has_center"`
	Lat            float64 `json:"lat,omitempty"`
	Lon            float64 `json:"lon,omitempty"`
	RadiusMeters   float64 `json:"radius_meters,omitempty"`
	ExtraDataRegex string `json:"extra_data_regex,omitempty"`

	IncludeThumbnailImages bool `json:"include_thumbnail_images"`
	IncludeHostedOnly      bool `json:"include_hosted_only"`

	MaxTotalRecordCount    int `json:"max_total_record_count"`
	MaxResponseRecordCount int `json:"max_response_record_count"`
}

type ProfileSearchResponse struct {
	Records      []ProfileInfo `json:"records"`
	TotalMatched int           `json:"total_matched"`
	CoveredNodes []string      `json:"covered_nodes"`
}

type ProfileSearchPartRequest struct {
	RecordIndex int `json:"record_index"`
	RecordCount int `json:"record_count"`
}

type ProfileSearchPartResponse struct {
	Records []ProfileInfo `json:"records"`
}

type StartNeighborhoodInitializationRequest struct {
	PrimaryPort        uint16 `json:"primary_port"`
	ServerNeighborPort uint16 `json:"sr_neighbor_port"`
}

type StartNeighborhoodInitializationResponse struct{}

// NeighborhoodUpdateOp is one of Add/Change/Delete/Refresh.
type NeighborhoodUpdateOp string

const (
	NeighborhoodOpAdd     NeighborhoodUpdateOp = "Add"
	NeighborhoodOpChange  NeighborhoodUpdateOp = "Change"
	NeighborhoodOpDelete  NeighborhoodUpdateOp = "Delete"
	NeighborhoodOpRefresh NeighborhoodUpdateOp = "Refresh"
)

// NeighborhoodUpdateItem is one item of a shared-profile-update batch.
type NeighborhoodUpdateItem struct {
	Op         NeighborhoodUpdateOp `json:"op"`
	IdentityID string                `json:"identity_id"`
	PublicKey  []byte                `json:"public_key,omitempty"`
	Version    string                `json:"version,omitempty"`

	SetName bool   `json:"set_name,omitempty"`
	Name    string `json:"name,omitempty"`

	SetType bool   `json:"set_type,omitempty"`
	Type    string `json:"type,omitempty"`

	SetLocation bool    `json:"set_location,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lon         float64 `json:"lon,omitempty"`

	SetExtraData bool   `json:"set_extra_data,omitempty"`
	ExtraData    string `json:"extra_data,omitempty"`

	SetImage  bool   `json:"set_image,omitempty"`
	ImageData []byte `json:"image_data,omitempty"`

	SetThumbnail  bool   `json:"set_thumbnail,omitempty"`
	ThumbnailData []byte `json:"thumbnail_data,omitempty"`

	Refresh bool `json:"refresh,omitempty"`
}

type NeighborhoodSharedProfileUpdateRequest struct {
	Items []NeighborhoodUpdateItem `json:"items"`
}

type NeighborhoodSharedProfileUpdateResponse struct{}

type FinishNeighborhoodInitializationRequest struct{}

type FinishNeighborhoodInitializationResponse struct{}
