package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/riptide-app/riptide/internal/api/downloads"
	"github.com/riptide-app/riptide/internal/http/websocket"
	"github.com/riptide-app/riptide/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole
	// responsibility is to create the routes Riptide exposes, manage ongoing
	// web socket connections and events, and to serve completed artifacts
	// from the output tree.
	RestGateway struct {
		*broadcaster
		config              *RestConfig
		ec                  *echo.Echo
		socket              *websocket.SocketHub
		downloadsController controller
		outputDir           string
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the downloads controller, plus the artifact file server
// and the websocket activity stream.
func NewRestGateway(
	config *RestConfig,
	service downloads.Service,
	metadata downloads.MetadataService,
	outputDir string,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.New()
	gateway := &RestGateway{
		broadcaster:         newBroadcaster(socket, service),
		config:              config,
		ec:                  ec,
		socket:              socket,
		downloadsController: downloads.New(validate, service, metadata),
		outputDir:           outputDir,
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/riptide/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	})

	downloadRoutes := ec.Group("/api/riptide/v1")
	gateway.downloadsController.SetRoutes(downloadRoutes)

	ec.GET("/api/riptide/v1/files/:date/:title/:filename/", gateway.serveArtifact)

	socket.WithConnectionCallback(gateway.connectionPayload)
	socket.BindCommand("TASK_STATUS", gateway.wsTaskStatus)

	return gateway
}

// serveArtifact streams a file from the structured output tree. Each path
// segment is checked before joining so an encoded traversal sequence can
// never escape the output root.
func (gateway *RestGateway) serveArtifact(ec echo.Context) error {
	date, title, filename := ec.Param("date"), ec.Param("title"), ec.Param("filename")
	for _, segment := range []string{date, title, filename} {
		if !safePathSegment(segment) {
			return echo.NewHTTPError(http.StatusBadRequest, "illegal path segment")
		}
	}

	path := filepath.Join(gateway.outputDir, "download", date, title, filename)
	return ec.File(path)
}

func safePathSegment(segment string) bool {
	if segment == "" || segment == "." || segment == ".." {
		return false
	}

	return !strings.ContainsAny(segment, "/\\")
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
