package runtime

import (
	"fmt"
	"strconv"
)

// RoutePrefix is the HTTP path prefix the gateway maps to an app.
func RoutePrefix(appID string) string {
	return "/apps/" + appID
}

// RoutingLabels returns the Traefik labels that route RoutePrefix(appID) to
// port inside the container and strip the prefix before forwarding.
func RoutingLabels(appID string, port int) map[string]string {
	prefix := RoutePrefix(appID)
	router := "rt-app-" + appID
	svc := "rt-svc-" + appID
	mw := "rt-mw-" + appID
	return map[string]string{
		"traefik.enable": "true",
		fmt.Sprintf("traefik.http.routers.%s.rule", router):                   fmt.Sprintf("PathPrefix(`%s`)", prefix),
		fmt.Sprintf("traefik.http.routers.%s.middlewares", router):            mw,
		fmt.Sprintf("traefik.http.routers.%s.service", router):                svc,
		fmt.Sprintf("traefik.http.middlewares.%s.stripprefix.prefixes", mw):   prefix,
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", svc): strconv.Itoa(port),
	}
}

// containerLabels are the labels every managed container carries, plus
// routing metadata when enabled.
func containerLabels(appID, userID string, port int, routing bool, network string) map[string]string {
	labels := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelAppID:     appID,
		LabelUserID:    userID,
	}
	if routing {
		for k, v := range RoutingLabels(appID, port) {
			labels[k] = v
		}
		if network != "" {
			labels["traefik.docker.network"] = network
		}
	}
	return labels
}
