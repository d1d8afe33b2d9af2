// Package v1 contains wire types for the Yandex Cloud Serverless API Gateway
// control plane (apigateways/v1).
package v1

// Status is the lifecycle status reported by the control plane for an API gateway.
type Status string

const (
	StatusUnspecified Status = "STATUS_UNSPECIFIED"
	StatusCreating    Status = "CREATING"
	StatusActive      Status = "ACTIVE"
	StatusDeleting    Status = "DELETING"
	StatusError       Status = "ERROR"
	StatusUpdating    Status = "UPDATING"
)

// ApiGateway is a single API gateway resource as returned by the control plane.
type ApiGateway struct {
	// ID is assigned by the control plane on creation.
	ID string `json:"id"`
	// FolderID is the folder the gateway belongs to.
	FolderID string `json:"folderId,omitempty"`
	// CreatedAt is an RFC 3339 timestamp.
	CreatedAt string `json:"createdAt,omitempty"`
	// Name is unique within a folder.
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	// Status is the current lifecycle status.
	Status Status `json:"status,omitempty"`
	// Domain is the default public domain, e.g. "d5dxxxx.apigw.yandexcloud.net".
	Domain     string `json:"domain,omitempty"`
	LogGroupID string `json:"logGroupId,omitempty"`
}

// ListApiGatewaysResponse is the body of GET apigateways?folderId=...
type ListApiGatewaysResponse struct {
	ApiGateways []ApiGateway `json:"apiGateways,omitempty"`
	// NextPageToken is set when more results are available.
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// CreateApiGatewayRequest is the body of POST apigateways.
type CreateApiGatewayRequest struct {
	FolderID    string            `json:"folderId"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	// OpenapiSpec is the YAML OpenAPI 3.0 document describing the gateway.
	OpenapiSpec string `json:"openapiSpec"`
}

// OperationMetadata carries the id of the gateway an operation acts on.
type OperationMetadata struct {
	ApiGatewayID string `json:"apiGatewayId,omitempty"`
}

// OperationError is the google.rpc.Status attached to a failed operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Operation is the long-running operation returned by create and delete calls.
type Operation struct {
	ID          string             `json:"id"`
	Description string             `json:"description,omitempty"`
	CreatedAt   string             `json:"createdAt,omitempty"`
	CreatedBy   string             `json:"createdBy,omitempty"`
	ModifiedAt  string             `json:"modifiedAt,omitempty"`
	Done        bool               `json:"done"`
	Metadata    *OperationMetadata `json:"metadata,omitempty"`
	Error       *OperationError    `json:"error,omitempty"`
}

// GatewayID returns the gateway id carried in the operation metadata, if any.
func (o *Operation) GatewayID() string {
	if o == nil || o.Metadata == nil {
		return ""
	}
	return o.Metadata.ApiGatewayID
}
