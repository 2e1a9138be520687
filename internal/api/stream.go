package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

// StreamBacktest 处理 GET /api/v1/backtests/:id/stream
// 逐步回放组合状态, 每步一条 JSON 消息, 结束后发送关闭帧
func (s *Server) StreamBacktest(c *gin.Context) {
	result, ok := s.lookup(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for i, snap := range result.Snapshots {
		if err := c.Request.Context().Err(); err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frameOf(result, i, snap)); err != nil {
			s.logger.Debug("stream client went away", zap.String("id", result.ID), zap.Error(err))
			return
		}
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func frameOf(r *types.BacktestResult, i int, snap types.PortfolioState) StreamFrame {
	ratio := types.NaN()
	if i < len(r.Ratios) {
		ratio = r.Ratios[i]
	}
	return StreamFrame{
		Step:       snap.Step,
		Date:       snap.Timestamp.Format("2006-01-02"),
		Cash:       snap.Cash,
		TotalValue: snap.TotalValue,
		Holdings:   snap.Holdings,
		Ratio:      ratio,
	}
}
